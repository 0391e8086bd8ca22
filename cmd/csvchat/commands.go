package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/csv-chatbot/backend/internal/analysis"
)

func newSummarizeCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "summarize <file>",
		Short: "Print describe-style statistics for every column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(args[0])
			if err != nil {
				return err
			}
			sum, err := s.Summarize()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(sum)
			}
			fmt.Fprint(out, sum.Markdown())
			fmt.Fprintf(out, "\nColumns: %s\n", strings.Join(sum.Columns, ", "))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of markdown")
	return cmd
}

func newPreviewCmd(a *app) *cobra.Command {
	var rows int
	cmd := &cobra.Command{
		Use:   "preview <file>",
		Short: "Print the first rows of the file as a markdown table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(args[0])
			if err != nil {
				return err
			}
			p, err := s.Preview(rows)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), analysis.MarkdownTable(p, len(p.Rows)))
			return nil
		},
	}
	cmd.Flags().IntVarP(&rows, "rows", "n", 5, "number of rows to show")
	return cmd
}

func newQueryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <file> <sql>",
		Short: "Run a read-only SQL query; the file is the table \"data\"",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(args[0])
			if err != nil {
				return err
			}
			res, err := s.Query(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, strings.Join(res.Columns, "\t"))
			for _, row := range res.Rows {
				fmt.Fprintln(out, strings.Join(row, "\t"))
			}
			if res.Truncated {
				fmt.Fprintf(out, "(truncated to %d rows)\n", len(res.Rows))
			}
			return nil
		},
	}
	return cmd
}

func newAskCmd(a *app) *cobra.Command {
	var stream bool
	cmd := &cobra.Command{
		Use:   "ask <file> <question>",
		Short: "Ask the model a question with the file as context",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout())
			defer cancel()

			ok, err := s.SetAPIKey(ctx, a.v.GetString("api-key"))
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("no API key: set CSVCHAT_API_KEY or pass --api-key")
			}

			out := cmd.OutOrStdout()
			if !stream {
				turns, err := s.Ask(ctx, args[1])
				if err != nil {
					return err
				}
				fmt.Fprintln(out, turns[len(turns)-1].Text)
				return nil
			}

			streamed := false
			turns, err := s.AskStream(ctx, args[1], func(delta string) {
				streamed = true
				fmt.Fprint(out, delta)
			})
			if err != nil {
				return err
			}
			// A failed stream leaves only the error reply to show.
			if !streamed {
				fmt.Fprint(out, turns[len(turns)-1].Text)
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&stream, "stream", false, "print the reply as it arrives")
	return cmd
}
