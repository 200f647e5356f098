package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/eringen/pubsched"
)

var (
	flagTitle       string
	flagContent     string
	flagContentFile string
	flagSlug        string
	flagCategory    string
	flagTags        []string
	flagKeywords    []string
	flagDescription string
	flagAt          string
	flagNewsletter  bool
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage the queue of scheduled posts",
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled posts in publication order",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		posts, err := app.Service.ScheduleList(contextOf(cmd))
		if err != nil {
			return err
		}
		if len(posts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No scheduled posts.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSCHEDULED FOR\tSLUG\tTITLE")
		for _, p := range posts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.ScheduledFor.In(app.Config.Location).Format(time.RFC3339), p.URLSlug, p.Title)
		}
		return w.Flush()
	},
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Queue a post for publication",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := requestFromFlags()
		if err != nil {
			return err
		}
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		id, err := app.Service.ScheduleCreate(contextOf(cmd), req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "scheduled %s for %s\n", id, req.ScheduledFor.UTC().Format(time.RFC3339))
		return nil
	},
}

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Publish a post immediately, bypassing the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := requestFromFlags()
		if err != nil {
			return err
		}
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		entry, err := app.PublishNow(contextOf(cmd), req)
		app.Service.Wait()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published %s at %s\n", entry.URLSlug, entry.URL)
		return nil
	},
}

// requestFromFlags builds a ScheduleRequest from the post flags. The slug
// defaults to the slugified title.
func requestFromFlags() (pubsched.ScheduleRequest, error) {
	content := flagContent
	if flagContentFile != "" {
		data, err := os.ReadFile(flagContentFile)
		if err != nil {
			return pubsched.ScheduleRequest{}, err
		}
		content = string(data)
	}
	req := pubsched.ScheduleRequest{
		Title:   flagTitle,
		Content: content,
		Options: pubsched.PostOptions{
			URLSlug:         flagSlug,
			Category:        flagCategory,
			Tags:            flagTags,
			MetaDescription: flagDescription,
			SEOKeywords:     flagKeywords,
			SendNewsletter:  flagNewsletter,
		},
	}
	if flagAt != "" {
		at, err := time.Parse(time.RFC3339, flagAt)
		if err != nil {
			return pubsched.ScheduleRequest{}, fmt.Errorf("--at: %w", err)
		}
		req.ScheduledFor = &at
	}
	if req.Options.URLSlug == "" {
		req.Options.URLSlug = pubsched.Slugify(flagTitle)
	}
	return req, nil
}

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a post from the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		post, err := app.Service.ScheduleDelete(contextOf(cmd), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s (%s)\n", post.ID, post.URLSlug)
		return nil
	},
}

func addPostFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&flagTitle, "title", "", "post title")
	f.StringVar(&flagContent, "content", "", "markdown content")
	f.StringVar(&flagContentFile, "content-file", "", "read markdown content from a file")
	f.StringVar(&flagSlug, "slug", "", "URL slug (default derived from the title)")
	f.StringVar(&flagCategory, "category", "", "category (default \"general\")")
	f.StringSliceVar(&flagTags, "tag", nil, "tag, repeatable or comma-separated")
	f.StringSliceVar(&flagKeywords, "keyword", nil, "SEO keyword, repeatable or comma-separated")
	f.StringVar(&flagDescription, "description", "", "meta description (default the title)")
	f.StringVar(&flagAt, "at", "", "publish time, RFC 3339 (e.g. 2026-01-02T09:00:00Z)")
	f.BoolVar(&flagNewsletter, "newsletter", false, "email subscribers once published")
}

func init() {
	addPostFlags(scheduleAddCmd)
	addPostFlags(postCmd)
	postCmd.Flags().Lookup("at").Usage = "date shown on the post, RFC 3339 (default now)"

	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleAddCmd)
	scheduleCmd.AddCommand(scheduleDeleteCmd)
}
