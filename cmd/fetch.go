package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/fetchqueue/internal/crawler"
)

type fetchFlags struct {
	priority int
	retries  int
	limiter  string
	download bool
	wait     time.Duration
}

func newFetchCmd() *cobra.Command {
	flags := fetchFlags{}
	cmd := &cobra.Command{
		Use:   "fetch <url>...",
		Short: "Fetch URLs once and print a summary per response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := runFetch(cmd.Context(), appInstance, args, flags, cmd.OutOrStdout()); err != nil {
				// PersistentPostRunE is skipped when RunE fails.
				_ = appInstance.Close(context.Background())
				return err
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&flags.priority, "priority", -1, "priority for every request; negative keeps the configured default")
	cmd.Flags().IntVar(&flags.retries, "retries", -1, "retries per request; negative keeps the configured default")
	cmd.Flags().StringVar(&flags.limiter, "limiter", "", "limiter key shared by every request")
	cmd.Flags().BoolVar(&flags.download, "download", false, "write bodies to the storage backend under hashed names")
	cmd.Flags().DurationVar(&flags.wait, "wait", 5*time.Minute, "give up waiting for outstanding requests after this long")
	return cmd
}

func runFetch(ctx context.Context, app App, urls []string, flags fetchFlags, out io.Writer) error {
	engine := app.Engine()
	logger := app.Logger()

	var mu sync.Mutex
	failures := 0
	report := func(resp *crawler.Response, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failures++
			fmt.Fprintf(out, "%s\terror\t%v\n", resp.Request.URI, err)
			return
		}
		fmt.Fprintf(out, "%s\t%d\t%d bytes\t%s\n", resp.URL, resp.StatusCode, len(resp.Body), summary(resp))
	}

	items := make([]any, 0, len(urls))
	for _, u := range urls {
		req := crawler.Request{Spec: crawler.Spec{URI: u, Limiter: flags.limiter}, Callback: report}
		if flags.priority >= 0 {
			req.Priority = crawler.Int(flags.priority)
		}
		if flags.retries >= 0 {
			req.Retries = crawler.Int(flags.retries)
		}
		if flags.download {
			req.Download = crawler.SaveHashed()
		}
		items = append(items, req)
	}
	accepted := engine.Queue(items...)
	logger.Debug("queued fetches", zap.Int("accepted", accepted))

	waitCtx, cancel := context.WithTimeout(ctx, flags.wait)
	defer cancel()
	if err := engine.Wait(waitCtx); err != nil {
		return fmt.Errorf("wait for fetches: %w", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if failures > 0 {
		return fmt.Errorf("%d of %d fetches failed", failures, len(urls))
	}
	return nil
}

func summary(resp *crawler.Response) string {
	switch {
	case resp.DownloadPath != "":
		return "saved " + resp.DownloadPath
	case resp.Document != nil:
		return "title=" + resp.Document.Find("title").First().Text()
	case resp.Charset != "":
		return "charset=" + resp.Charset
	default:
		return "-"
	}
}
