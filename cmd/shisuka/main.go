// Command shisuka is a command-line client for the project feedback platform:
// sign in, upload projects, review other users' work, and track coins and
// notifications from a terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kianjain/shisuka/internal/app"
	"github.com/kianjain/shisuka/internal/config"
	"github.com/kianjain/shisuka/internal/models"
	"github.com/kianjain/shisuka/internal/service"
	"github.com/kianjain/shisuka/internal/session"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := a.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	// Restore any persisted session before running the command.
	if err := a.Session.CheckAuthState(ctx); err != nil {
		log.Fatalf("Session restore failed: %v", err)
	}

	if err := run(ctx, a, os.Args[1], os.Args[2:]); err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", appErr.Message)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, a *app.App, command string, args []string) error {
	switch command {
	case "signup":
		return cmdSignUp(ctx, a, args)
	case "signin":
		return cmdSignIn(ctx, a, args)
	case "signout":
		return a.SignOut(ctx)
	case "whoami":
		return cmdWhoAmI(a)
	case "upload":
		return cmdUpload(ctx, a, args)
	case "projects":
		return cmdProjects(ctx, a)
	case "review":
		return cmdReview(ctx, a, args)
	case "feedback":
		return cmdFeedback(ctx, a, args)
	case "coins":
		return cmdCoins(ctx, a, args)
	case "favorite":
		return cmdFavorite(ctx, a, args)
	case "favorites":
		return cmdFavorites(ctx, a)
	case "notifications":
		return cmdNotifications(ctx, a)
	default:
		usage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  shisuka signup <email> <password> <username>")
	fmt.Println("  shisuka signin <email> <password>")
	fmt.Println("  shisuka signout")
	fmt.Println("  shisuka whoami")
	fmt.Println("  shisuka upload <title> [--image <file>] [--audio <file>]")
	fmt.Println("  shisuka projects")
	fmt.Println("  shisuka review [page]")
	fmt.Println("  shisuka feedback <project-id> <comment>")
	fmt.Println("  shisuka coins [earn|spend <amount> [project-id] [description]]")
	fmt.Println("  shisuka favorite <project-id>")
	fmt.Println("  shisuka favorites")
	fmt.Println("  shisuka notifications")
}

func cmdSignUp(ctx context.Context, a *app.App, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: shisuka signup <email> <password> <username>")
	}
	if err := a.Session.SignUp(ctx, args[0], args[1], args[2]); err != nil {
		return err
	}
	snap := a.Session.Snapshot()
	if snap.State == session.PendingVerification {
		fmt.Println("Account created. Check your email to verify before signing in.")
	} else {
		fmt.Printf("Signed up and in as %s\n", snap.User.Email)
	}
	return nil
}

func cmdSignIn(ctx context.Context, a *app.App, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: shisuka signin <email> <password>")
	}
	if err := a.Session.SignIn(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("Signed in as %s\n", args[0])
	return nil
}

func cmdWhoAmI(a *app.App) error {
	snap := a.Session.Snapshot()
	if snap.User == nil {
		fmt.Println("Not signed in")
		return nil
	}
	fmt.Printf("%s (%s)\n", snap.User.Username(), snap.User.Email)
	return nil
}

func cmdUpload(ctx context.Context, a *app.App, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: shisuka upload <title> [--image <file>] [--audio <file>]")
	}
	input := service.UploadProjectInput{Title: args[0]}
	for i := 1; i < len(args)-1; i++ {
		switch args[i] {
		case "--image":
			data, err := os.ReadFile(args[i+1])
			if err != nil {
				return err
			}
			input.ImageData = data
		case "--audio":
			data, err := os.ReadFile(args[i+1])
			if err != nil {
				return err
			}
			input.AudioData = data
		case "--description":
			input.Description = args[i+1]
		}
	}

	project, err := a.Projects.UploadProject(ctx, input)
	if err != nil {
		return err
	}
	fmt.Printf("Uploaded project %s: %s\n", project.ID, project.Title)
	return nil
}

func cmdProjects(ctx context.Context, a *app.App) error {
	projects, err := a.Projects.GetProjects(ctx)
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		fmt.Println("No projects yet")
		return nil
	}
	for _, p := range projects {
		fmt.Printf("%s  [%s]  %s\n", p.ID, p.Status, p.Title)
	}
	return nil
}

func cmdReview(ctx context.Context, a *app.App, args []string) error {
	page := 0
	if len(args) > 0 {
		if _, err := fmt.Sscanf(args[0], "%d", &page); err != nil {
			return fmt.Errorf("invalid page: %s", args[0])
		}
	}
	projects, err := a.Projects.GetProjectsForReview(ctx, page)
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		fmt.Println("Nothing to review right now")
		return nil
	}
	for _, p := range projects {
		fmt.Printf("%s  %s\n", p.ID, p.Title)
	}
	return nil
}

func cmdFeedback(ctx context.Context, a *app.App, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: shisuka feedback <project-id> <comment>")
	}
	fb, err := a.Feedback.Submit(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("Feedback %s submitted\n", fb.ID)
	return nil
}

func cmdCoins(ctx context.Context, a *app.App, args []string) error {
	if len(args) == 0 {
		balance, err := a.Coins.Balance(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Balance: %d coins\n", balance)
		return nil
	}
	if len(args) < 2 {
		return fmt.Errorf("usage: shisuka coins [earn|spend <amount> [project-id] [description]]")
	}
	var amount int
	if _, err := fmt.Sscanf(args[1], "%d", &amount); err != nil {
		return fmt.Errorf("invalid amount: %s", args[1])
	}
	var projectID, description string
	if len(args) > 2 {
		projectID = args[2]
	}
	if len(args) > 3 {
		description = strings.Join(args[3:], " ")
	}

	var balance int
	var err error
	switch args[0] {
	case "earn":
		balance, err = a.Coins.Earn(ctx, amount, projectID, description)
	case "spend":
		balance, err = a.Coins.Spend(ctx, amount, projectID, description)
	default:
		return fmt.Errorf("usage: shisuka coins [earn|spend <amount> [project-id] [description]]")
	}
	if err != nil {
		return err
	}
	fmt.Printf("Balance: %d coins\n", balance)
	return nil
}

func cmdFavorite(ctx context.Context, a *app.App, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: shisuka favorite <project-id>")
	}
	favorited, err := a.Favorites.Toggle(ctx, args[0])
	if err != nil {
		return err
	}
	if favorited {
		fmt.Println("Favorited")
	} else {
		fmt.Println("Unfavorited")
	}
	return nil
}

func cmdFavorites(ctx context.Context, a *app.App) error {
	projects, err := a.Favorites.ListFavorites(ctx)
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		fmt.Println("No favorites yet")
		return nil
	}
	for _, p := range projects {
		fmt.Printf("%s  %s\n", p.ID, p.Title)
	}
	return nil
}

func cmdNotifications(ctx context.Context, a *app.App) error {
	items, err := a.Notifications.Fetch(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("No activity yet")
		return nil
	}
	for _, item := range items {
		fmt.Printf("%-12s %s %s %q\n", item.TimeAgo, item.UserName, item.Action, item.ProjectName)
	}
	return nil
}
