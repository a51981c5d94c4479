package main

import (
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/rankforge/api/internal/model"
)

func newEnqueueCmd() *cobra.Command {
	var in model.ArticleJobInput
	var length string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue an article generation job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in.ContentLength = model.ContentLength(length)
			if err := validator.New().Struct(&in); err != nil {
				return err
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			resp, err := e.jobs.Enqueue(cmd.Context(), model.JobKindArticle, in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().StringVar(&in.Keyword, "keyword", "", "focus keyword")
	cmd.Flags().StringVar(&in.WebsiteID, "website", "", "website ID")
	cmd.Flags().StringVar(&length, "length", string(model.ContentLengthMedium), "SHORT, MEDIUM, LONG or PILLAR")
	cmd.Flags().BoolVar(&in.IncludeFAQ, "faq", false, "add an FAQ section")
	cmd.Flags().BoolVar(&in.IncludeImages, "images", false, "generate a featured and inline images")
	cmd.Flags().BoolVar(&in.IncludeTableOfContents, "toc", false, "add a table of contents")
	cmd.Flags().BoolVar(&in.AutoPublish, "auto-publish", false, "request publishing once stored")
	cmd.Flags().StringVar(&in.CustomDirection, "direction", "", "extra instructions for the writer")
	_ = cmd.MarkFlagRequired("keyword")
	_ = cmd.MarkFlagRequired("website")

	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			status, err := e.jobs.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
}

func newRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Run the stuck-job sweep once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			report, err := e.jobs.RecoverStuckJobs(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}
