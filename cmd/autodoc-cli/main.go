package main

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/autodoc/internal/config"
	"github.com/Lllllllleong/autodoc/internal/objectstore"
	"github.com/Lllllllleong/autodoc/internal/services"
	"github.com/Lllllllleong/autodoc/internal/session"
	"github.com/Lllllllleong/autodoc/internal/thumbnail"
)

var callbackAddr string

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "autodoc: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "autodoc-cli",
		Short:        "List, upload and preview your AutoDoc PDFs",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&callbackAddr, "callback-addr", "127.0.0.1:8085", "Loopback address that receives the sign-in callback")
	cmd.AddCommand(newListCmd(), newUploadCmd(), newThumbCmd())
	return cmd
}

// client is a signed-in gallery for one command run.
type client struct {
	uid        string
	controller *services.GalleryController
	fetcher    thumbnail.Fetcher
	scale      float64
}

func connect(ctx context.Context) (*client, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, err
	}
	store, fetcher, err := cfg.ObjectStore(ctx)
	if err != nil {
		return nil, err
	}
	sessions, err := cfg.SessionStore(ctx)
	if err != nil {
		return nil, err
	}
	gateway, err := cfg.Gateway(ctx, "http://"+callbackAddr+session.CallbackPath, sessions)
	if err != nil {
		return nil, err
	}
	sess, err := session.LoopbackSignIn(ctx, gateway, callbackAddr, os.Stderr)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "Signed in as %s.\n", sess.Email)

	controller := services.NewGalleryController(gateway.Bind(sess.ID), store, services.GalleryConfig{Fanout: cfg.GalleryFanout})
	return &client{uid: sess.UID, controller: controller, fetcher: fetcher, scale: cfg.ThumbnailScale}, nil
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List uploaded PDFs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			err = c.controller.Initialize(cmd.Context())
			view := c.controller.View()
			printDocuments(cmd, view)
			if err != nil {
				return err
			}
			if view.Message != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), view.Message)
			}
			return nil
		},
	}
}

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			name := filepath.Base(args[0])
			contentType := mime.TypeByExtension(filepath.Ext(name))

			c, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.controller.SelectFile(services.Selection{Name: name, ContentType: contentType, Data: data}); err != nil {
				return err
			}

			done := make(chan struct{})
			go reportProgress(cmd, c.controller, done)
			err = c.controller.Upload(cmd.Context())
			close(done)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s.\n", name)
			printDocuments(cmd, c.controller.View())
			return nil
		},
	}
}

func newThumbCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "thumb <name>",
		Short: "Render the first page of an uploaded PDF to a PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.controller.Initialize(cmd.Context()); err != nil {
				return err
			}
			doc, ok := c.controller.Document(objectstore.ObjectPath(c.uid, args[0]))
			if !ok {
				return fmt.Errorf("%s: %w", args[0], objectstore.ErrNotFound)
			}

			gallery := thumbnail.NewGallery(thumbnail.NewRenderer(c.fetcher, c.scale))
			surface := gallery.Render(cmd.Context(), doc.Path, doc.URL)
			if surface.Blank() {
				fmt.Fprintln(cmd.ErrOrStderr(), "Could not render a preview; writing a blank image.")
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := surface.PNG(f); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "thumbnail.png", "PNG file to write")
	return cmd
}

func printDocuments(cmd *cobra.Command, view services.View) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tUPLOADED")
	for _, d := range view.Documents {
		fmt.Fprintf(w, "%s\t%d\t%s\n", d.Name, d.Size, d.UploadedAt.Local().Format(time.DateTime))
	}
	w.Flush()
}

func reportProgress(cmd *cobra.Command, controller *services.GalleryController, done <-chan struct{}) {
	for {
		changed := controller.Changed()
		if p := controller.View().Progress; p != nil && p.TotalBytes > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "\rUploading... %3d%%", p.BytesTransferred*100/p.TotalBytes)
		}
		select {
		case <-changed:
		case <-done:
			fmt.Fprintln(cmd.ErrOrStderr())
			return
		}
	}
}
