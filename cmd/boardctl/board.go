package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"salesboard/internal/board"
	"salesboard/internal/stages"
)

// session is one board client: a Store refreshed from the server plus the
// reconciler and gate writing through it.
type session struct {
	store *board.Store
	gate  *board.Gate
	rec   *board.Reconciler

	mu   sync.Mutex
	errs []error
}

func (a *app) openSession(ctx context.Context) (*session, error) {
	c := a.client()
	list, err := c.Stages(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stages: %w", err)
	}
	catalog, err := stages.New(list)
	if err != nil {
		return nil, fmt.Errorf("stage catalog: %w", err)
	}

	s := &session{store: board.NewStore(catalog)}
	s.gate = board.NewGate(c, s.store, s.report)
	s.rec = board.NewReconciler(c, s.store, s.gate, s.report, a.logger)
	if _, err := s.rec.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("fetch pipeline: %w", err)
	}
	return s, nil
}

func (s *session) report(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

// settle waits for every in-flight write and returns the failures.
func (s *session) settle() error {
	s.rec.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.errs...)
}

func (s *session) locate(leadID string) (board.Position, error) {
	stage, index, ok := s.store.CurrentSnapshot().Locate(leadID)
	if !ok {
		return board.Position{}, fmt.Errorf("%w: %s", board.ErrLeadNotOnBoard, leadID)
	}
	return board.Position{Stage: stage, Index: index}, nil
}

func printBoard(out io.Writer, st *board.Store) {
	snap := st.CurrentSnapshot()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, stage := range snap.Stages() {
		leads := snap.Column(stage)
		fmt.Fprintf(tw, "%s\t%d leads\ttotal %s\tweighted %s\n", stage, len(leads), snap.Total(stage).StringFixed(2), st.WeightedTotal(stage).StringFixed(2))
		for _, lead := range leads {
			fmt.Fprintf(tw, "  %s\t%s\t%s %s\t\n", lead.ID, lead.Title, lead.Value.StringFixed(2), lead.Currency)
		}
	}
	_ = tw.Flush()
}

func newBoardCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Show the pipeline board",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.commandContext(cmd)
			defer cancel()

			s, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			printBoard(a.out, s.store)
			return nil
		},
	}
}

func newMoveCmd(a *app) *cobra.Command {
	var index int
	cmd := &cobra.Command{
		Use:   "move LEAD_ID STAGE",
		Short: "Drag a lead to another stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.commandContext(cmd)
			defer cancel()

			s, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			src, err := s.locate(args[0])
			if err != nil {
				return err
			}
			dest := board.Position{Stage: args[1], Index: index}
			if index < 0 {
				dest.Index = len(s.store.CurrentSnapshot().Column(args[1]))
			}

			if err := s.rec.OnDrop(ctx, board.DropResult{LeadID: args[0], Source: src, Destination: &dest}); err != nil {
				return err
			}
			if err := s.settle(); err != nil {
				return err
			}
			printBoard(a.out, s.store)
			return nil
		},
	}
	cmd.Flags().IntVar(&index, "index", -1, "position in the destination column (default: last)")
	return cmd
}

func newTerminalCmd(a *app, name string, short string) *cobra.Command {
	action := board.Action(strings.ToUpper(name))
	var yes bool
	cmd := &cobra.Command{
		Use:   name + " LEAD_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.commandContext(cmd)
			defer cancel()

			s, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			src, err := s.locate(args[0])
			if err != nil {
				return err
			}
			if err := s.rec.OnDrop(ctx, board.DropResult{LeadID: args[0], Source: src, Zone: action}); err != nil {
				return err
			}

			if !yes && !confirm(a.in, a.out, fmt.Sprintf("%s lead %s?", name, args[0])) {
				if err := s.gate.Cancel(); err != nil {
					return err
				}
				fmt.Fprintln(a.out, "cancelled")
				return nil
			}
			if err := s.gate.Confirm(ctx); err != nil {
				return err
			}
			if err := s.settle(); err != nil {
				return err
			}
			printBoard(a.out, s.store)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
