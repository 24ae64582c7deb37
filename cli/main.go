package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	Version   = "dev"
)

type apiResponse struct {
	Success      bool              `json:"success"`
	Message      string            `json:"message"`
	Agent        json.RawMessage   `json:"agent"`
	Agents       []json.RawMessage `json:"agents"`
	Policy       json.RawMessage   `json:"policy"`
	Command      json.RawMessage   `json:"command"`
	Commands     []json.RawMessage `json:"commands"`
	Versions     []json.RawMessage `json:"versions"`
	RestoredFrom json.RawMessage   `json:"restoredFrom"`
	TotalCount   int64             `json:"totalCount"`
}

type agentInfo struct {
	ID            uint   `json:"id"`
	ComputerID    int64  `json:"computerId"`
	Version       string `json:"version"`
	Status        string `json:"status"`
	LastHeartbeat string `json:"lastHeartbeat"`
	ConfigVersion string `json:"configVersion"`
	OfflineSince  string `json:"offlineSince"`
}

type policyInfo struct {
	PolicyVersion         string   `json:"policyVersion"`
	CollectionIntervalSec int      `json:"collectionIntervalSec"`
	HeartbeatIntervalSec  int      `json:"heartbeatIntervalSec"`
	FlushIntervalSec      int      `json:"flushIntervalSec"`
	IdleThresholdSec      int      `json:"idleThresholdSec"`
	HighRiskThreshold     float32  `json:"highRiskThreshold"`
	AdminBlocked          bool     `json:"adminBlocked"`
	BlockedReason         string   `json:"blockedReason"`
	Browsers              []string `json:"browsers"`
	Signature             string   `json:"signature"`
	UpdatedAt             string   `json:"updatedAt"`
}

type commandInfo struct {
	ID             uint   `json:"id"`
	Type           string `json:"type"`
	Status         string `json:"status"`
	RequestedBy    string `json:"requestedBy"`
	ResultMessage  string `json:"resultMessage"`
	CreatedAt      string `json:"createdAt"`
	AcknowledgedAt string `json:"acknowledgedAt"`
}

type versionInfo struct {
	ID            uint   `json:"id"`
	PolicyVersion string `json:"policyVersion"`
	ChangeType    string `json:"changeType"`
	ChangedBy     string `json:"changedBy"`
	CreatedAt     string `json:"createdAt"`
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "staffctl",
		Short: "StaffSight control plane CLI",
		Long:  "Inspect agents and manage monitoring policies and commands from the terminal",
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "Control plane URL")

	rootCmd.AddCommand(
		agentsCmd(),
		policyCmd(),
		commandCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func agentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "agents",
		Aliases: []string{"ls", "list"},
		Short:   "List registered agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			path := "/v1/agents"
			if status != "" {
				path += "?status=" + status
			}
			resp, err := call(http.MethodGet, path, nil)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCOMPUTER\tVERSION\tSTATUS\tLAST HEARTBEAT")
			for _, raw := range resp.Agents {
				var a agentInfo
				if err := json.Unmarshal(raw, &a); err != nil {
					return err
				}
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", a.ID, a.ComputerID, a.Version, a.Status, a.LastHeartbeat)
			}
			w.Flush()
			fmt.Printf("\n%d agent(s)\n", resp.TotalCount)
			return nil
		},
	}
	cmd.Flags().String("status", "", "Filter by status (online, offline)")

	cmd.AddCommand(&cobra.Command{
		Use:   "show [agent-id]",
		Short: "Show one agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(http.MethodGet, "/v1/agents/"+args[0], nil)
			if err != nil {
				return err
			}
			var a agentInfo
			if err := json.Unmarshal(resp.Agent, &a); err != nil {
				return err
			}
			fmt.Printf("Agent %d\n", a.ID)
			fmt.Printf("  Computer:        %d\n", a.ComputerID)
			fmt.Printf("  Version:         %s\n", a.Version)
			fmt.Printf("  Status:          %s\n", a.Status)
			fmt.Printf("  Last heartbeat:  %s\n", a.LastHeartbeat)
			fmt.Printf("  Config version:  %s\n", a.ConfigVersion)
			if a.OfflineSince != "" {
				fmt.Printf("  Offline since:   %s\n", a.OfflineSince)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [agent-id]",
		Short: "Delete an agent and its policy, commands and sync batches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(http.MethodDelete, "/v1/agents/"+args[0], nil)
			if err != nil {
				return err
			}
			fmt.Println(resp.Message)
			return nil
		},
	})

	return cmd
}

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and change agent policies",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [agent-id]",
		Short: "Show the effective policy for an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(http.MethodGet, "/v1/agents/"+args[0]+"/policy", nil)
			if err != nil {
				return err
			}
			return printPolicy(resp.Policy)
		},
	})

	setCmd := &cobra.Command{
		Use:   "set [agent-id] [policy.json]",
		Short: "Upsert an agent policy from a JSON file (use - for stdin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body []byte
			var err error
			if args[1] == "-" {
				body, err = io.ReadAll(os.Stdin)
			} else {
				body, err = os.ReadFile(args[1])
			}
			if err != nil {
				return err
			}
			resp, err := call(http.MethodPut, "/v1/agents/"+args[0]+"/policy", body)
			if err != nil {
				return err
			}
			fmt.Println(resp.Message)
			return printPolicy(resp.Policy)
		},
	}
	cmd.AddCommand(setCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [agent-id]",
		Short: "Delete an agent policy (the agent reverts to defaults)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(http.MethodDelete, "/v1/agents/"+args[0]+"/policy", nil)
			if err != nil {
				return err
			}
			fmt.Println(resp.Message)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "versions [agent-id]",
		Short: "List the policy change history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(http.MethodGet, "/v1/agents/"+args[0]+"/policy/versions", nil)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tVERSION\tCHANGE\tBY\tAT")
			for _, raw := range resp.Versions {
				var v versionInfo
				if err := json.Unmarshal(raw, &v); err != nil {
					return err
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", v.ID, v.PolicyVersion, v.ChangeType, v.ChangedBy, v.CreatedAt)
			}
			w.Flush()
			fmt.Printf("\n%d version(s)\n", resp.TotalCount)
			return nil
		},
	})

	rollbackCmd := &cobra.Command{
		Use:   "rollback [agent-id] [version-id]",
		Short: "Restore the policy content of an earlier version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			requestedBy, _ := cmd.Flags().GetString("by")
			var body []byte
			if requestedBy != "" {
				body, _ = json.Marshal(map[string]string{"requestedBy": requestedBy})
			}
			resp, err := call(http.MethodPost, "/v1/agents/"+args[0]+"/policy/versions/"+args[1]+"/restore", body)
			if err != nil {
				return err
			}
			fmt.Println(resp.Message)
			return printPolicy(resp.Policy)
		},
	}
	rollbackCmd.Flags().String("by", "", "Operator name recorded in the history")
	cmd.AddCommand(rollbackCmd)

	return cmd
}

func commandCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "command",
		Short: "Queue and track agent commands",
	}

	sendCmd := &cobra.Command{
		Use:   "send [agent-id] [type]",
		Short: "Queue a command for an agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, _ := cmd.Flags().GetString("payload")
			body, err := json.Marshal(map[string]string{
				"type":        args[1],
				"payloadJson": payload,
			})
			if err != nil {
				return err
			}
			resp, err := call(http.MethodPost, "/v1/agents/"+args[0]+"/commands", body)
			if err != nil {
				return err
			}
			var c commandInfo
			if err := json.Unmarshal(resp.Command, &c); err != nil {
				return err
			}
			fmt.Printf("Queued command %d (%s) for agent %s\n", c.ID, c.Type, args[0])
			return nil
		},
	}
	sendCmd.Flags().String("payload", "", "Command payload as JSON")
	cmd.AddCommand(sendCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "pending [agent-id]",
		Short: "Show commands waiting for delivery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(http.MethodGet, "/v1/agents/"+args[0]+"/commands/pending", nil)
			if err != nil {
				return err
			}
			printCommands(resp.Commands)
			return nil
		},
	})

	listCmd := &cobra.Command{
		Use:   "list [agent-id]",
		Short: "Show the command history for an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			path := "/v1/agents/" + args[0] + "/commands"
			if status != "" {
				path += "?status=" + status
			}
			resp, err := call(http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			printCommands(resp.Commands)
			fmt.Printf("\n%d command(s)\n", resp.TotalCount)
			return nil
		},
	}
	listCmd.Flags().String("status", "", "Filter by status")
	cmd.AddCommand(listCmd)

	ackCmd := &cobra.Command{
		Use:   "ack [command-id]",
		Short: "Acknowledge a command on an agent's behalf",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			message, _ := cmd.Flags().GetString("message")
			body, err := json.Marshal(map[string]string{
				"status":        status,
				"resultMessage": message,
			})
			if err != nil {
				return err
			}
			resp, err := call(http.MethodPost, "/v1/commands/"+args[0]+"/ack", body)
			if err != nil {
				return err
			}
			fmt.Println(resp.Message)
			return nil
		},
	}
	ackCmd.Flags().String("status", "success", "Outcome to record")
	ackCmd.Flags().String("message", "", "Result message")
	cmd.AddCommand(ackCmd)

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("staffctl version %s\n", Version)
		},
	}
}

func printPolicy(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var p policyInfo
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	fmt.Printf("Policy version %s (updated %s)\n", p.PolicyVersion, p.UpdatedAt)
	fmt.Printf("  Collection interval:  %ds\n", p.CollectionIntervalSec)
	fmt.Printf("  Heartbeat interval:   %ds\n", p.HeartbeatIntervalSec)
	fmt.Printf("  Flush interval:       %ds\n", p.FlushIntervalSec)
	fmt.Printf("  Idle threshold:       %ds\n", p.IdleThresholdSec)
	fmt.Printf("  High risk threshold:  %s\n", strconv.FormatFloat(float64(p.HighRiskThreshold), 'f', -1, 32))
	fmt.Printf("  Browsers:             %s\n", strings.Join(p.Browsers, ", "))
	if p.AdminBlocked {
		fmt.Printf("  Admin blocked:        yes (%s)\n", p.BlockedReason)
	}
	if p.Signature != "" {
		sig := p.Signature
		if len(sig) > 16 {
			sig = sig[:16] + "..."
		}
		fmt.Printf("  Signature:            %s\n", sig)
	}
	return nil
}

func printCommands(commands []json.RawMessage) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tBY\tCREATED\tRESULT")
	for _, raw := range commands {
		var c commandInfo
		if err := json.Unmarshal(raw, &c); err != nil {
			continue
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", c.ID, c.Type, c.Status, c.RequestedBy, c.CreatedAt, c.ResultMessage)
	}
	w.Flush()
}

// call issues one API request and unwraps the response envelope. A
// failed envelope becomes an error carrying the server's message.
func call(method, path string, body []byte) (*apiResponse, error) {
	req, err := http.NewRequest(method, serverURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed apiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	if !parsed.Success {
		return nil, fmt.Errorf("%s", parsed.Message)
	}
	return &parsed, nil
}
