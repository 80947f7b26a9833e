package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loadkit/imagepipeline/imgdata"
	"github.com/loadkit/imagepipeline/request"
)

type fetchFlags struct {
	priority      string
	thumbWidth    int
	thumbHeight   int
	cacheDataOnly bool
	timeout       time.Duration
}

var ff fetchFlags

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Load a single image through the pipeline and report the result",
	Args:  cobra.ExactArgs(1),
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&ff.priority, "priority", "normal", "veryLow|low|normal|high|veryHigh")
	fetchCmd.Flags().IntVar(&ff.thumbWidth, "thumb-width", 0, "decode only a thumbnail of this pixel width")
	fetchCmd.Flags().IntVar(&ff.thumbHeight, "thumb-height", 0, "decode only a thumbnail of this pixel height")
	fetchCmd.Flags().BoolVar(&ff.cacheDataOnly, "cache-data-only", false, "fail instead of loading over the network if no cached data is available")
	fetchCmd.Flags().DurationVar(&ff.timeout, "timeout", 30*time.Second, "maximum time to wait for the task to finish")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	fc, err := loadFileConfig(flags.configPath)
	if err != nil {
		return err
	}
	p, cleanup, err := buildPipeline(fc, flags.verbose, flags.metricsAddr)
	if err != nil {
		return err
	}
	defer cleanup()

	req, err := buildRequest(args[0], ff)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), ff.timeout)
	defer cancel()

	task := p.LoadImage(ctx, req)
	resp, err := task.Response(ctx)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "format=%s bytes=%d cache=%s preview=%v\n",
		resp.Container.Type, len(resp.Container.OriginalData), cacheTypeString(resp.CacheType), resp.Container.IsPreview)
	return nil
}

func buildRequest(url string, ff fetchFlags) (request.Request, error) {
	pr, err := parsePriority(ff.priority)
	if err != nil {
		return request.Request{}, err
	}

	req := request.Request{
		Resource: request.Resource{Kind: request.ResourceURL, URL: url},
		Priority: pr,
	}
	if ff.cacheDataOnly {
		req.Options = req.Options.With(request.OptionReturnCacheDataDontLoad)
	}
	if ff.thumbWidth > 0 && ff.thumbHeight > 0 {
		req.Thumbnail = &request.ThumbnailSpec{Width: ff.thumbWidth, Height: ff.thumbHeight, ContentMode: "aspectFit"}
	}
	return req, nil
}

func parsePriority(s string) (request.Priority, error) {
	var p request.Priority
	switch s {
	case "veryLow":
		return p.VeryLow(), nil
	case "low":
		return p.Low(), nil
	case "normal":
		return p.Normal(), nil
	case "high":
		return p.High(), nil
	case "veryHigh":
		return p.VeryHigh(), nil
	default:
		return p, fmt.Errorf("cmd: unknown priority %q", s)
	}
}

func cacheTypeString(c imgdata.CacheType) string {
	switch c {
	case imgdata.CacheMemory:
		return "memory"
	case imgdata.CacheDisk:
		return "disk"
	default:
		return "none"
	}
}
