package main

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/sharedstate/internal/document"
	"github.com/mattjoyce/sharedstate/internal/stream"
)

// clientEnv holds consumer settings read from the environment.
type clientEnv struct {
	AgentURL string        `envconfig:"AGENT_URL" default:"http://localhost:8888"`
	ThreadID string        `envconfig:"THREAD_ID" default:"default"`
	Timeout  time.Duration `envconfig:"AGENT_TIMEOUT" default:"5m"`
}

// clientFlags are the consumer flags shared by chat, send and reset.
// Flags that were set explicitly override the environment.
type clientFlags struct {
	url     string
	thread  string
	agent   string
	timeout time.Duration
}

func (f *clientFlags) register(cmd *cobra.Command, withAgent bool) {
	cmd.Flags().StringVar(&f.url, "url", "", "agent server base URL (env AGENT_URL)")
	cmd.Flags().StringVar(&f.thread, "thread", "", "conversation thread id (env THREAD_ID)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "run timeout (env AGENT_TIMEOUT)")
	if withAgent {
		cmd.Flags().StringVar(&f.agent, "agent", "recipe", "agent to talk to: recipe|theme")
	}
}

type clientSettings struct {
	BaseURL  string
	ThreadID string
	Timeout  time.Duration
	Kind     document.Kind
	Endpoint string
}

func (f *clientFlags) resolve(cmd *cobra.Command) (clientSettings, error) {
	var env clientEnv
	if err := envconfig.Process("", &env); err != nil {
		return clientSettings{}, fmt.Errorf("read environment: %w", err)
	}
	s := clientSettings{BaseURL: env.AgentURL, ThreadID: env.ThreadID, Timeout: env.Timeout}
	if cmd.Flags().Changed("url") {
		s.BaseURL = f.url
	}
	if cmd.Flags().Changed("thread") {
		s.ThreadID = f.thread
	}
	if cmd.Flags().Changed("timeout") {
		s.Timeout = f.timeout
	}
	if s.Timeout <= 0 {
		return clientSettings{}, fmt.Errorf("timeout must be positive")
	}
	if f.agent != "" {
		kind, path, err := endpointFor(f.agent)
		if err != nil {
			return clientSettings{}, err
		}
		s.Kind, s.Endpoint = kind, path
	}
	return s, nil
}

func (s clientSettings) client() *stream.Client {
	opts := []stream.Option{stream.WithTimeout(s.Timeout)}
	if s.Endpoint != "" {
		opts = append(opts, stream.WithEndpoint(s.Endpoint))
	}
	return stream.NewClient(s.BaseURL, opts...)
}

func newResetCmd() *cobra.Command {
	var flags clientFlags
	c := &cobra.Command{
		Use:   "reset [thread_id]",
		Short: "Clear a thread's history and documents on the server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := flags.resolve(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				s.ThreadID = args[0]
			}
			if err := s.client().Reset(cmd.Context(), s.ThreadID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "thread %s reset\n", s.ThreadID)
			return nil
		},
	}
	flags.register(c, false)
	return c
}
