package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/photobook/internal/asset"
	"github.com/dharsanguruparan/photobook/internal/build"
	"github.com/dharsanguruparan/photobook/internal/catalog"
	"github.com/dharsanguruparan/photobook/internal/composition"
	"github.com/dharsanguruparan/photobook/internal/order"
	pdfutil "github.com/dharsanguruparan/photobook/internal/pdf"
	"github.com/dharsanguruparan/photobook/internal/storage"
	"github.com/dharsanguruparan/photobook/internal/upload"
)

func (c *cli) newCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the products that can be ordered",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := c.env.API.FetchCatalog(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCOVER\tPAGE\tLAYOUTS")
			for _, p := range cat.Products() {
				fmt.Fprintf(w, "%s\t%s\t%gx%g\t%gx%g\t%d\n", p.ID, p.Name,
					p.CoverSize.Width, p.CoverSize.Height, p.PageSize.Width, p.PageSize.Height, len(p.Layouts))
			}
			return w.Flush()
		},
	}
}

func (c *cli) newComposeCmd() *cobra.Command {
	var product, coverColor, pageColor string
	cmd := &cobra.Command{
		Use:   "compose photo...",
		Short: "Lay photos out on a new photobook and save it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, _, err := c.open(ctx, false)
			if err != nil {
				return err
			}
			assets := make([]asset.Asset, 0, len(args))
			for _, path := range args {
				a, err := asset.OpenFile(path)
				if err != nil {
					return err
				}
				assets = append(assets, a)
			}
			if err := store.SelectProduct(product, assets); err != nil {
				return err
			}
			if err := store.SetColors(composition.Color(coverColor), composition.Color(pageColor)); err != nil {
				return err
			}
			if err := store.SizeContainers(); err != nil {
				return err
			}
			if err := store.Persist(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "composed %d pages on %s\n", store.PageCount(), product)
			return nil
		},
	}
	cmd.Flags().StringVarP(&product, "product", "p", "", "Product id from the catalog")
	cmd.Flags().StringVar(&coverColor, "cover-color", string(composition.ColorWhite), "Cover colour: white or black")
	cmd.Flags().StringVar(&pageColor, "page-color", string(composition.ColorWhite), "Page colour: white or black")
	_ = cmd.MarkFlagRequired("product")
	return cmd
}

func (c *cli) newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the saved composition",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := c.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			snapshot := store.Snapshot()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "product %s, cover %s, pages %s\n", snapshot.ProductID, snapshot.CoverColor, snapshot.PageColor)
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PAGE\tLAYOUT\tPHOTO\tCONTAINER\tTEXT")
			for i, p := range snapshot.Pages {
				photo, container := "-", "-"
				if p.Placement != nil {
					if a := p.Placement.Asset(); a != nil {
						photo = a.Identifier()
					}
					if size := p.Placement.ContainerSize(); size.Width > 0 {
						container = fmt.Sprintf("%gx%g", size.Width, size.Height)
					}
				}
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", i, p.LayoutID, photo, container, p.Text)
			}
			return w.Flush()
		},
	}
}

func (c *cli) newEditCmd() *cobra.Command {
	var (
		page   int
		layout int
		text   string
		font   string
		photo  string
	)
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Change one page of the saved composition",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, _, err := c.open(ctx, true)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("layout") {
				if err := store.SetLayout(page, catalog.LayoutID(layout)); err != nil {
					return err
				}
				if err := store.SizeContainers(); err != nil {
					return err
				}
			}
			if flags.Changed("photo") {
				a, err := asset.OpenFile(photo)
				if err != nil {
					return err
				}
				if err := store.SetAsset(page, a); err != nil {
					return err
				}
			}
			if flags.Changed("text") {
				if err := store.SetText(page, text); err != nil {
					return err
				}
			}
			if flags.Changed("font") {
				f, err := parseFont(font)
				if err != nil {
					return err
				}
				if err := store.SetFont(page, f); err != nil {
					return err
				}
			}
			return store.Persist(ctx)
		},
	}
	cmd.Flags().IntVar(&page, "page", 0, "Page index, 0 is the cover")
	cmd.Flags().IntVar(&layout, "layout", 0, "New layout id")
	cmd.Flags().StringVar(&text, "text", "", "Page text")
	cmd.Flags().StringVar(&font, "font", "", "Font: plain, classic or solid")
	cmd.Flags().StringVar(&photo, "photo", "", "Replace the page photo")
	return cmd
}

func parseFont(name string) (composition.FontType, error) {
	switch strings.ToLower(name) {
	case "plain":
		return composition.FontPlain, nil
	case "classic":
		return composition.FontClassic, nil
	case "solid":
		return composition.FontSolid, nil
	}
	return 0, fmt.Errorf("unknown font %q", name)
}

func (c *cli) newOrderCmd() *cobra.Command {
	var (
		timeout time.Duration
		verify  bool
	)
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Upload the photos of the saved composition and build its PDFs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return c.runOrder(ctx, cmd, verify)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "Give up after this long")
	cmd.Flags().BoolVar(&verify, "verify", false, "Download the inside PDF and check its page count")
	return cmd
}

func (c *cli) runOrder(ctx context.Context, cmd *cobra.Command, verify bool) error {
	cfg := c.env.Config
	store, adapter, err := c.open(ctx, true)
	if err != nil {
		return err
	}
	tr, err := c.env.UploadTransport(ctx)
	if err != nil {
		return err
	}
	uploads := upload.New(storage.NewMemoryStore(), tr, store, upload.Options{
		Workers:    cfg.UploadWorkers,
		MaxRetries: cfg.UploadMaxRetries,
		Backoff:    cfg.UploadBackoff,
		MaxBackoff: cfg.UploadMaxBackoff,
		Logger:     c.env.Logger,
	})
	if err := uploads.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = uploads.Shutdown(shutdownCtx)
	}()

	out := cmd.OutOrStdout()
	go func() {
		for ev := range uploads.Subscribe() {
			switch ev.Kind {
			case upload.EventUploaded:
				fmt.Fprintf(out, "uploaded %s (%d left)\n", ev.AssetID, ev.Pending)
			default:
				fmt.Fprintf(out, "%s: %s %v\n", ev.Kind, ev.AssetID, ev.Err)
			}
		}
	}()

	coordinator := build.NewCoordinator(c.env.API, build.Options{
		PollInterval:    cfg.BuildPollInterval,
		MaxPollInterval: cfg.BuildMaxPollInterval,
		MaxWait:         cfg.BuildMaxWait,
		Recorder:        storage.NewBuildStore(),
		Logger:          c.env.Logger,
	})
	dispatcher := order.NewLocalDispatcher(ctx, order.NewBuilder(adapter, store.Catalog(), coordinator))
	svc := order.NewService(store, uploads, adapter, dispatcher, c.env.Logger)

	n, err := svc.Start(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "uploading %d photos\n", n)
	orderID, err := svc.Finalize(ctx)
	if err != nil {
		if errors.Is(err, upload.ErrRetryNeeded) {
			return fmt.Errorf("%w; run order again to retry", err)
		}
		return err
	}
	h, _ := dispatcher.Handle(orderID)
	fmt.Fprintf(out, "order %s submitted, waiting for the PDFs\n", orderID)
	job, err := h.Wait(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "cover:  %s\ninside: %s\n", job.CoverURL, job.InsideURL)

	if verify {
		req, err := build.NewRequest(store.Snapshot(), store.Catalog(), uploads.RemoteRefs())
		if err != nil {
			return err
		}
		pages, err := pdfutil.NewVerifier(c.env.HTTP).Verify(ctx, job.InsideURL, req.InsidePages())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "inside pdf has %d pages\n", pages)
	}
	return nil
}
