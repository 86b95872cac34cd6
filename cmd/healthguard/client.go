package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// apiResponse mirrors the server's response envelope
type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func makeAPIRequest(method, path string, payload interface{}) (*apiResponse, error) {
	serverAddr, _ := rootCmd.PersistentFlags().GetString("server")
	token, _ := rootCmd.PersistentFlags().GetString("token")
	if token == "" {
		token = os.Getenv("HEALTHGUARD_TOKEN")
	}

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
	}

	req, err := http.NewRequest(method, serverAddr+path, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	return &apiResp, nil
}

func login(cmd *cobra.Command) {
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")

	apiResp, err := makeAPIRequest("POST", "/auth/login", map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		fmt.Printf("Error logging in: %v\n", err)
		os.Exit(1)
	}
	if !apiResp.Success {
		fmt.Printf("Login failed: %s\n", apiResp.Message)
		os.Exit(1)
	}

	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(apiResp.Data, &data); err != nil {
		fmt.Printf("Failed to parse login response: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(data.Token)
}

func createWorkflow(cmd *cobra.Command) {
	subject, _ := cmd.Flags().GetString("subject")
	stepNames, _ := cmd.Flags().GetStringSlice("step")
	priority, _ := cmd.Flags().GetString("priority")
	contextJSON, _ := cmd.Flags().GetString("context")

	if len(stepNames) == 0 {
		fmt.Println("Error: at least one --step is required")
		os.Exit(1)
	}

	payload := map[string]interface{}{
		"subject_id":      subject,
		"requested_steps": stepNames,
		"priority":        priority,
	}
	if contextJSON != "" {
		var clinicalContext map[string]interface{}
		if err := json.Unmarshal([]byte(contextJSON), &clinicalContext); err != nil {
			fmt.Printf("Error: --context must be a JSON object: %v\n", err)
			os.Exit(1)
		}
		payload["context"] = clinicalContext
	}

	apiResp, err := makeAPIRequest("POST", "/workflows", payload)
	if err != nil {
		fmt.Printf("Error creating workflow: %v\n", err)
		os.Exit(1)
	}
	if !apiResp.Success {
		fmt.Printf("Failed to create workflow: %s\n", apiResp.Message)
		os.Exit(1)
	}

	var data struct {
		WorkflowID string `json:"workflow_id"`
	}
	if err := json.Unmarshal(apiResp.Data, &data); err == nil {
		fmt.Printf("Workflow accepted:\n")
		fmt.Printf("  ID: %s\n", data.WorkflowID)
		fmt.Printf("  Subject: %s\n", subject)
		fmt.Printf("  Steps: %v\n", stepNames)
		fmt.Printf("  Priority: %s\n", priority)
	}
}

func showStatus(workflowID string) {
	apiResp, err := makeAPIRequest("GET", "/workflows/"+url.PathEscape(workflowID)+"/status", nil)
	if err != nil {
		fmt.Printf("Error fetching status: %v\n", err)
		os.Exit(1)
	}
	if !apiResp.Success {
		fmt.Printf("Failed to fetch status: %s\n", apiResp.Message)
		os.Exit(1)
	}

	var view struct {
		WorkflowID   string   `json:"workflow_id"`
		Status       string   `json:"status"`
		Progress     float64  `json:"progress"`
		PendingSteps []string `json:"pending_steps"`
		CreatedAt    string   `json:"created_at"`
		CompletedAt  string   `json:"completed_at"`
	}
	if err := json.Unmarshal(apiResp.Data, &view); err != nil {
		fmt.Printf("Failed to parse status: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Workflow %s\n", view.WorkflowID)
	fmt.Printf("  Status:   %s\n", view.Status)
	fmt.Printf("  Progress: %.0f%%\n", view.Progress*100)
	if len(view.PendingSteps) > 0 {
		fmt.Printf("  Pending:  %v\n", view.PendingSteps)
	}
	if view.CompletedAt != "" {
		fmt.Printf("  Finished: %s\n", view.CompletedAt)
	}
}

func showResults(workflowID string) {
	apiResp, err := makeAPIRequest("GET", "/workflows/"+url.PathEscape(workflowID)+"/results", nil)
	if err != nil {
		fmt.Printf("Error fetching results: %v\n", err)
		os.Exit(1)
	}
	if !apiResp.Success {
		fmt.Printf("Failed to fetch results: %s\n", apiResp.Message)
		os.Exit(1)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, apiResp.Data, "", "  "); err != nil {
		fmt.Printf("Failed to format report: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(pretty.String())
}

func cancelWorkflow(workflowID string) {
	apiResp, err := makeAPIRequest("DELETE", "/workflows/"+url.PathEscape(workflowID), nil)
	if err != nil {
		fmt.Printf("Error cancelling workflow: %v\n", err)
		os.Exit(1)
	}
	if !apiResp.Success {
		fmt.Printf("Failed to cancel workflow: %s\n", apiResp.Message)
		os.Exit(1)
	}
	fmt.Println(apiResp.Message)
}

func listWorkflows(cmd *cobra.Command) {
	subject, _ := cmd.Flags().GetString("subject")

	apiResp, err := makeAPIRequest("GET", "/workflows?subject_id="+url.QueryEscape(subject), nil)
	if err != nil {
		fmt.Printf("Error listing workflows: %v\n", err)
		os.Exit(1)
	}
	if !apiResp.Success {
		fmt.Printf("Failed to list workflows: %s\n", apiResp.Message)
		os.Exit(1)
	}

	var data struct {
		Workflows []struct {
			ID        string   `json:"id"`
			Status    string   `json:"status"`
			Priority  string   `json:"priority"`
			Steps     []string `json:"requested_steps"`
			CreatedAt string   `json:"created_at"`
		} `json:"workflows"`
	}
	if err := json.Unmarshal(apiResp.Data, &data); err != nil {
		fmt.Printf("Failed to parse workflows: %v\n", err)
		os.Exit(1)
	}
	if len(data.Workflows) == 0 {
		fmt.Println("No workflows found")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tSTEPS\tCREATED")
	for _, wf := range data.Workflows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			wf.ID, wf.Status, wf.Priority, len(wf.Steps), wf.CreatedAt)
	}
	w.Flush()
}
