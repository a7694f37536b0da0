// Command reelforgectl is a thin cobra CLI over the coordinator's command
// surface: every subcommand marshals an operator.Envelope and POSTs it to
// --addr/v1/commands.
//
// Grounded on ChuLiYu-raft-recovery's internal/cli/cli.go (cobra root
// command with a persistent config/target flag, one subcommand per
// operator action, RunE delegating to a small request function),
// adapted from that CLI's local-process/gRPC dual-mode submission to a
// single HTTP POST against this system's command endpoint.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/neurobridge-labs/reelforge/internal/operator"
)

var (
	addr      string
	commandID string
)

func main() {
	if err := buildRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "reelforgectl",
		Short: "Operate a reelforge pipeline run from the command line",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8080", "coordinator base URL")
	root.PersistentFlags().StringVar(&commandID, "command-id", "", "idempotency key (defaults to a fresh uuid)")

	root.AddCommand(
		buildStartCommand(),
		buildResumeCommand(),
		buildRegenerateSceneCommand(),
		buildRegenerateFrameCommand(),
		buildUpdateAssetCommand(),
		buildResolveCommand(),
		buildStopCommand(),
	)
	return root
}

func buildStartCommand() *cobra.Command {
	var projectID, prompt, audioURI string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new pipeline run for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]interface{}{"initialPrompt": prompt}
			if audioURI != "" {
				payload["audioGcsUri"] = audioURI
			}
			return send(operator.CmdStartPipeline, projectID, payload)
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id (uuid)")
	cmd.Flags().StringVar(&prompt, "prompt", "", "initial creative prompt")
	cmd.Flags().StringVar(&audioURI, "audio-uri", "", "optional source audio object uri")
	cmd.MarkFlagRequired("project")
	return cmd
}

func buildResumeCommand() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a suspended pipeline run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(operator.CmdResumePipeline, projectID, nil)
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id (uuid)")
	cmd.MarkFlagRequired("project")
	return cmd
}

func buildRegenerateSceneCommand() *cobra.Command {
	var projectID, sceneID, modification string
	cmd := &cobra.Command{
		Use:   "regenerate-scene",
		Short: "Force a scene back through processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(operator.CmdRegenerateScene, projectID, map[string]interface{}{
				"sceneId":            sceneID,
				"promptModification": modification,
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id (uuid)")
	cmd.Flags().StringVar(&sceneID, "scene", "", "scene id")
	cmd.Flags().StringVar(&modification, "modification", "", "prompt modification to apply")
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("scene")
	return cmd
}

func buildRegenerateFrameCommand() *cobra.Command {
	var projectID, sceneID, assetKey string
	cmd := &cobra.Command{
		Use:   "regenerate-frame",
		Short: "Re-render one scene frame asset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(operator.CmdRegenerateFrame, projectID, map[string]interface{}{
				"sceneId":  sceneID,
				"assetKey": assetKey,
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id (uuid)")
	cmd.Flags().StringVar(&sceneID, "scene", "", "scene id")
	cmd.Flags().StringVar(&assetKey, "asset-key", "", "asset kind, e.g. scene_start_frame")
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("scene")
	cmd.MarkFlagRequired("asset-key")
	return cmd
}

func buildUpdateAssetCommand() *cobra.Command {
	var projectID, sceneID, assetKey string
	var version int
	cmd := &cobra.Command{
		Use:   "update-asset",
		Short: "Promote a specific asset version to best",
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(operator.CmdUpdateSceneAsset, projectID, map[string]interface{}{
				"sceneId":  sceneID,
				"assetKey": assetKey,
				"version":  version,
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id (uuid)")
	cmd.Flags().StringVar(&sceneID, "scene", "", "scene id")
	cmd.Flags().StringVar(&assetKey, "asset-key", "", "asset kind")
	cmd.Flags().IntVar(&version, "version", 0, "1-based version number to promote")
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("scene")
	cmd.MarkFlagRequired("asset-key")
	cmd.MarkFlagRequired("version")
	return cmd
}

func buildResolveCommand() *cobra.Command {
	var projectID, action string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a pending human-in-the-loop intervention",
		Long:  "action is one of: abort, skip, retry_with_revised_params",
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(operator.CmdResolveIntervention, projectID, map[string]interface{}{
				"action": action,
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id (uuid)")
	cmd.Flags().StringVar(&action, "action", "", "abort | skip | retry_with_revised_params")
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("action")
	return cmd
}

func buildStopCommand() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Abort an in-flight pipeline run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(operator.CmdStopPipeline, projectID, nil)
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id (uuid)")
	cmd.MarkFlagRequired("project")
	return cmd
}

func send(cmdType operator.Command, projectID string, payload interface{}) error {
	pid, err := uuid.Parse(projectID)
	if err != nil {
		return fmt.Errorf("invalid --project: %w", err)
	}
	id := commandID
	if id == "" {
		id = uuid.New().String()
	}

	var rawPayload json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		rawPayload = encoded
	}

	body, err := json.Marshal(struct {
		Type      operator.Command `json:"type"`
		ProjectID string           `json:"projectId"`
		CommandID string           `json:"commandId"`
		Payload   json.RawMessage  `json:"payload,omitempty"`
	}{Type: cmdType, ProjectID: pid.String(), CommandID: id, Payload: rawPayload})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(addr+"/v1/commands", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post command: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("coordinator returned %s: %s", resp.Status, string(respBody))
	}
	fmt.Printf("%s accepted (commandId=%s)\n", cmdType, id)
	return nil
}
