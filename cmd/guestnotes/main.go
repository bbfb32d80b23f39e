// Package main implements the guestnotes CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vaibhavsaha/guestnotes/internal/backend"
	"github.com/vaibhavsaha/guestnotes/internal/callback"
	"github.com/vaibhavsaha/guestnotes/internal/config"
	"github.com/vaibhavsaha/guestnotes/internal/identity"
	"github.com/vaibhavsaha/guestnotes/internal/kvstore"
	"github.com/vaibhavsaha/guestnotes/internal/logging"
	"github.com/vaibhavsaha/guestnotes/internal/posts"
	"github.com/vaibhavsaha/guestnotes/internal/session"
)

var (
	// cfgFile is the config file path; empty means the default location.
	cfgFile string
	// version information
	version = "dev"

	flagTitle string
	flagBody  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "guestnotes",
	Short: "Minimal note-taking client for the hosted notes service",
	Long: `guestnotes is a command-line client for a hosted note-taking service.
Sign in with an account, or continue as a guest, and create short posts
owned by your identity.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/guestnotes/config.yaml)")

	createCmd.Flags().StringVar(&flagTitle, "title", "", "post title (1-100 characters)")
	createCmd.Flags().StringVar(&flagBody, "body", "", "post body (1-500 characters)")
	updateCmd.Flags().StringVar(&flagTitle, "title", "", "new post title")
	updateCmd.Flags().StringVar(&flagBody, "body", "", "new post body")

	rootCmd.AddCommand(signUpCmd)
	rootCmd.AddCommand(signInCmd)
	rootCmd.AddCommand(signOutCmd)
	rootCmd.AddCommand(guestCmd)
	rootCmd.AddCommand(upgradeCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(callbackCmd)
}

// app holds the wired services behind every command.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      kvstore.Store
	client     *backend.HTTPClient
	resolver   *identity.Resolver
	posts      posts.Service
	cache      *posts.Cache
	reconciler *session.Reconciler
}

// newApp loads configuration and wires the services. A missing backend
// configuration blocks every command with a single static message.
func newApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	store, err := kvstore.NewFileStore(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	client, err := backend.NewHTTPClient(backend.Options{
		BaseURL: cfg.Backend.URL,
		AnonKey: cfg.Backend.AnonKey.Value(),
		Timeout: cfg.Backend.RequestTimeout.Duration(),
		Store:   store,
		Logger:  logger.Named("backend"),
	})
	if err != nil {
		return nil, err
	}

	resolver, err := identity.NewResolver(client, store, logger.Named("identity"))
	if err != nil {
		return nil, err
	}

	postService, err := posts.NewService(client, logger.Named("posts"))
	if err != nil {
		return nil, err
	}

	cache := posts.NewCache()
	reconciler, err := session.NewReconciler(client, store, resolver, cache, logger.Named("session"))
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		client:     client,
		resolver:   resolver,
		posts:      postService,
		cache:      cache,
		reconciler: reconciler,
	}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}

var signUpCmd = &cobra.Command{
	Use:   "signup <email> <password>",
	Short: "Register a new account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		user, err := a.client.SignUp(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}

		fmt.Printf("Account created for %s. Check your email for a verification link,\n", user.Email)
		fmt.Println("then run 'guestnotes callback' before opening it so the sign-in completes.")
		return nil
	},
}

var signInCmd = &cobra.Command{
	Use:   "signin <email> <password>",
	Short: "Sign in with email and password",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		sess, err := a.client.SignInWithPassword(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}

		// Identity changed; the next list must refetch.
		a.cache.Invalidate()
		fmt.Printf("Signed in as %s\n", sess.User.Email)
		return nil
	},
}

var signOutCmd = &cobra.Command{
	Use:   "signout",
	Short: "Sign out and clear all local identity state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		a.reconciler.SignOut(cmd.Context())
		fmt.Println("Signed out.")
		return nil
	},
}

var guestCmd = &cobra.Command{
	Use:   "guest",
	Short: "Continue without an account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if a.resolver.Resolve(cmd.Context()).IsAuthenticated() {
			return fmt.Errorf("already signed in; run 'guestnotes signout' first")
		}

		user, err := a.resolver.CreateGuest()
		if err != nil {
			return err
		}
		fmt.Printf("Continuing as guest %s\n", user.ID)
		return nil
	},
}

var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Create an account from guest mode",
	Long: `Discards the local guest identity so the next command presents the
sign-in flow. Posts created as a guest stay owned by the old guest
identity and are not migrated.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.reconciler.UpgradeGuest(); err != nil {
			return err
		}
		fmt.Println("Guest identity cleared. Run 'guestnotes signup <email> <password>' to register.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current acting identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		user := a.resolver.Resolve(cmd.Context())
		switch {
		case user.IsAuthenticated():
			fmt.Printf("Signed in as %s (%s)\n", user.Email, user.ID)
		case user.IsGuest():
			fmt.Printf("Guest %s\n", user.ID)
		default:
			fmt.Println("Not signed in. Run 'guestnotes signin' or 'guestnotes guest'.")
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List posts visible to the current identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		viewer := a.resolver.Resolve(cmd.Context())
		result, err := a.fetchPosts(cmd.Context(), viewer)
		if err != nil {
			return err
		}

		if len(result) == 0 {
			fmt.Println("No posts yet. Create your first post!")
			return nil
		}
		for _, post := range result {
			printPost(post, viewer)
		}
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a post",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		viewer := a.resolver.Resolve(cmd.Context())
		draft := posts.Draft{Title: flagTitle, Body: flagBody}

		post, err := a.posts.Create(cmd.Context(), viewer, draft)
		if err != nil {
			if a.reconciler.HandleWriteError(err, draft) {
				fmt.Fprintln(os.Stderr, "You need an account to do that.")
				fmt.Fprintln(os.Stderr, "Run 'guestnotes signup' or 'guestnotes guest', then submit your post again.")
				return errors.New("account required to create posts")
			}
			return err
		}

		a.reconciler.MutationCompleted()
		fmt.Printf("Created post %s\n", post.ID)
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <post-id>",
	Short: "Update a post you own",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		viewer := a.resolver.Resolve(cmd.Context())
		existing, err := a.findPost(cmd.Context(), viewer, args[0])
		if err != nil {
			return err
		}
		if !existing.EditableBy(viewer) {
			return fmt.Errorf("post %s is not yours to edit", args[0])
		}

		if cmd.Flags().Changed("title") {
			existing.Title = flagTitle
		}
		if cmd.Flags().Changed("body") {
			existing.Body = flagBody
		}

		updated, err := a.posts.Update(cmd.Context(), viewer, *existing)
		if err != nil {
			return err
		}

		a.reconciler.MutationCompleted()
		fmt.Printf("Updated post %s\n", updated.ID)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <post-id>",
	Short: "Delete a post you own",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		viewer := a.resolver.Resolve(cmd.Context())
		if err := a.posts.Delete(cmd.Context(), viewer, args[0]); err != nil {
			return err
		}

		a.reconciler.MutationCompleted()
		fmt.Printf("Deleted post %s\n", args[0])
		return nil
	},
}

var callbackCmd = &cobra.Command{
	Use:   "callback",
	Short: "Run the email-verification callback listener",
	Long: `Listens for the redirect from the verification email and exchanges its
one-time code for a session. Stop with Ctrl-C once signed in.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		srv, err := callback.NewServer(callback.Config{
			Addr:          a.cfg.Callback.Addr,
			RedirectDelay: a.cfg.Callback.RedirectDelay.Duration(),
		}, a.client, a.logger.Named("callback"))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Listening on %s for the verification redirect\n", a.cfg.Callback.Addr)
		if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

// fetchPosts serves the list from the cache when valid, refetching and
// refilling it otherwise.
func (a *app) fetchPosts(ctx context.Context, viewer identity.User) ([]posts.Post, error) {
	if cached, ok := a.cache.Get(); ok {
		return cached, nil
	}
	result, err := a.posts.List(ctx, viewer)
	if err != nil {
		return nil, err
	}
	a.cache.Put(result)
	return result, nil
}

// findPost fetches the visible post with the given id.
func (a *app) findPost(ctx context.Context, viewer identity.User, id string) (*posts.Post, error) {
	result, err := a.fetchPosts(ctx, viewer)
	if err != nil {
		return nil, err
	}
	for i := range result {
		if result[i].ID == id {
			return &result[i], nil
		}
	}
	return nil, fmt.Errorf("post %s not found", id)
}

func printPost(post posts.Post, viewer identity.User) {
	marker := " "
	if post.EditableBy(viewer) {
		marker = "*"
	}
	owner := post.OwnerID
	if post.IsGuestOwned {
		owner = "guest " + owner
	}
	fmt.Printf("%s %s  %s\n    %s\n    by %s at %s\n",
		marker, post.ID, post.Title, post.Body, owner,
		post.CreatedAt.Format("2006-01-02 15:04"))
}
