package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/teamdrive/internal/bus"
	"github.com/nextlevelbuilder/teamdrive/internal/config"
	"github.com/nextlevelbuilder/teamdrive/internal/control"
)

func controlClient() (*control.Client, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	return control.NewClient(cfg.Control.Addr()), nil
}

func inputCmd() *cobra.Command {
	var dialogID, agentID, lang string
	cmd := &cobra.Command{
		Use:   "input [text...]",
		Short: "Send operator text to a dialog (opens a new one by default)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := controlClient()
			if err != nil {
				return err
			}
			id, err := client.Input(context.Background(), control.InputRequest{
				DialogID: dialogID,
				AgentID:  agentID,
				Content:  strings.Join(args, " "),
				Lang:     lang,
			})
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dialogID, "dialog", "d", "", "existing dialog id")
	cmd.Flags().StringVarP(&agentID, "agent", "a", "", "agent to open a new dialog with")
	cmd.Flags().StringVar(&lang, "lang", "", "preferred reply language code")
	return cmd
}

func stopCmd() *cobra.Command {
	var reason, detail string
	cmd := &cobra.Command{
		Use:   "stop <dialog-id>",
		Short: "Interrupt a dialog's in-flight drive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := controlClient()
			if err != nil {
				return err
			}
			live, err := client.Stop(context.Background(), control.StopRequest{
				DialogID: args[0],
				Reason:   reason,
				Detail:   detail,
			})
			if err != nil {
				return err
			}
			if live {
				fmt.Println("stop requested; drive interrupting")
			} else {
				fmt.Println("stop recorded; no drive in flight")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "user_stop", "stop reason: emergency_stop, user_stop, system_stop")
	cmd.Flags().StringVar(&detail, "detail", "", "free-form stop detail")
	return cmd
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <dialog-id>",
		Short: "Restart an interrupted dialog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := controlClient()
			if err != nil {
				return err
			}
			return client.Resume(context.Background(), args[0])
		},
	}
}

func answerCmd() *cobra.Command {
	var dialogID string
	cmd := &cobra.Command{
		Use:   "answer <q4h-id> [text...]",
		Short: "Answer a question the team asked the human",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := controlClient()
			if err != nil {
				return err
			}
			id, err := client.Answer(context.Background(), control.AnswerRequest{
				Q4HID:    args[0],
				DialogID: dialogID,
				Content:  strings.Join(args[1:], " "),
			})
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dialogID, "dialog", "d", "", "dialog the question belongs to (found by id when omitted)")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [dialog-id]",
		Short: "Show dialog run states",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := controlClient()
			if err != nil {
				return err
			}
			ctx := context.Background()
			if len(args) == 1 {
				st, err := client.Status(ctx, args[0])
				if err != nil {
					return err
				}
				printStatus(*st)
				return nil
			}
			all, err := client.StatusAll(ctx)
			if err != nil {
				return err
			}
			if len(all) == 0 {
				fmt.Println("no dialogs")
				return nil
			}
			for _, st := range all {
				printStatus(st)
			}
			return nil
		},
	}
}

func printStatus(st control.DialogStatus) {
	kind := "root"
	if st.DialogID != st.RootID {
		kind = "sub of " + st.RootID
	}
	fmt.Printf("%s  agent=%s  %s  (%s, %d msgs, %d calls)\n",
		st.DialogID, st.AgentID, st.RunState, kind, st.MessageCount, st.FunctionCallCount)
	for _, q := range st.OpenQuestions {
		fmt.Printf("  q4h %s: %s\n", q.ID, q.TellaskContent)
	}
	for _, p := range st.PendingSubdialogs {
		fmt.Printf("  waiting on %s (%s, call %s)\n", p.TargetAgentID, p.SubdialogID, p.CallID)
	}
}

func watchCmd() *cobra.Command {
	var rootID string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream driver events to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := controlClient()
			if err != nil {
				return err
			}
			return client.Watch(cmd.Context(), rootID, func(ev bus.Event) {
				fmt.Fprintf(os.Stdout, "%s  %-24s dialog=%s", ev.At.Format("15:04:05"), ev.Type, ev.DialogID)
				if ev.Payload != nil {
					fmt.Fprintf(os.Stdout, "  %v", ev.Payload)
				}
				fmt.Fprintln(os.Stdout)
			})
		},
	}
	cmd.Flags().StringVar(&rootID, "root", "", "limit to one root dialog")
	return cmd
}
