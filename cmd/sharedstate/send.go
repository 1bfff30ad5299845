package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/sharedstate/internal/document"
	"github.com/mattjoyce/sharedstate/internal/protocol"
	"github.com/mattjoyce/sharedstate/internal/reducer"
	"github.com/mattjoyce/sharedstate/internal/stream"
)

func newSendCmd() *cobra.Command {
	var flags clientFlags
	var statePath string
	c := &cobra.Command{
		Use:   "send <message>",
		Short: "Send one message and print the streamed reply and final document",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := flags.resolve(cmd)
			if err != nil {
				return err
			}
			var baseline json.RawMessage
			if statePath != "" {
				baseline, err = os.ReadFile(statePath)
				if err != nil {
					return fmt.Errorf("read state file: %w", err)
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), s.Timeout)
			defer cancel()
			return runSend(ctx, cmd.OutOrStdout(), s.client(), sendRequest{
				Kind:     s.Kind,
				ThreadID: s.ThreadID,
				Message:  strings.Join(args, " "),
				Baseline: baseline,
			})
		},
	}
	flags.register(c, true)
	c.Flags().StringVar(&statePath, "state", "", "JSON document to send as the baseline (default: keep the server's)")
	return c
}

type sendRequest struct {
	Kind     document.Kind
	ThreadID string
	Message  string
	// Baseline, when set, replaces the server's document before the turn.
	Baseline json.RawMessage
}

// runSend drives one run through a reducer, echoing text as it streams.
func runSend(ctx context.Context, out io.Writer, client *stream.Client, req sendRequest) error {
	r := reducer.New(req.Kind)
	if len(req.Baseline) > 0 {
		if err := r.SetDocument(req.Baseline); err != nil {
			return fmt.Errorf("invalid %s document: %w", req.Kind.Name, err)
		}
	}
	if err := r.Begin(uuid.NewString(), protocol.Message{ID: uuid.NewString(), Content: req.Message}); err != nil {
		return err
	}
	runReq := r.Request(req.ThreadID)
	if len(req.Baseline) == 0 {
		runReq.State = nil
	}

	rs, err := client.Run(ctx, runReq)
	if err != nil {
		r.Fail(err)
		return err
	}
	defer rs.Close()

	for evt, err := range rs.All() {
		if err != nil {
			r.Fail(err)
			return fmt.Errorf("read stream: %w", err)
		}
		switch e := evt.(type) {
		case protocol.TextMessageContent:
			fmt.Fprint(out, e.Content)
		case protocol.TextMessageEnd:
			fmt.Fprintln(out)
		case protocol.ToolCallStart:
			fmt.Fprintf(out, "[%s]\n", e.ToolName)
		case protocol.ToolCallEnd:
			if msg := toolFailure(e.Result); msg != "" {
				fmt.Fprintf(out, "[tool failed: %s]\n", msg)
			}
		}
		if err := r.Apply(evt); err != nil {
			fmt.Fprintf(out, "[state update rejected: %v]\n", err)
		}
	}
	r.End()

	st := r.State()
	if st.Error != "" {
		return errors.New(st.Error)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, st.Document, "", "  "); err != nil {
		return fmt.Errorf("format %s: %w", req.Kind.Name, err)
	}
	fmt.Fprintf(out, "\n%s:\n%s\n", req.Kind.Name, pretty.String())
	return nil
}

// toolFailure returns the error message carried by a tool result, if any.
func toolFailure(result json.RawMessage) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return ""
	}
	return payload.Error
}
