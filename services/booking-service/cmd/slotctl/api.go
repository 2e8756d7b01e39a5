package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(cfg cliConfig) *apiClient {
	return &apiClient{baseURL: cfg.APIURL, http: &http.Client{Timeout: cfg.Timeout}}
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server answered %d: %s", e.Status, e.Message)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type slotResponse struct {
	Time   string `json:"time"`
	Status string `json:"status"`
}

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List a practitioner's slots for a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			practitioner, _ := cmd.Flags().GetString("practitioner")
			date, _ := cmd.Flags().GetString("date")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			q := url.Values{}
			q.Set("practitioner_id", practitioner)
			q.Set("date", date)

			var slots []slotResponse
			if err := newAPIClient(cfg).do(cmd.Context(), http.MethodGet, "/api/v1/slots?"+q.Encode(), nil, &slots); err != nil {
				return err
			}
			for _, s := range slots {
				printSlot(cmd.OutOrStdout(), s.Time, s.Status)
			}
			return nil
		},
	}
	cmd.Flags().String("practitioner", "", "Practitioner id")
	cmd.Flags().String("date", "", "Date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("practitioner")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func bookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Book a slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{}
			for _, name := range []string{"practitioner", "pet", "owner", "date", "time", "reason", "notes"} {
				v, _ := cmd.Flags().GetString(name)
				key := name
				if name == "practitioner" || name == "pet" || name == "owner" {
					key = name + "_id"
				}
				body[key] = v
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var created struct {
				AppointmentID string `json:"appointment_id"`
				Status        string `json:"status"`
			}
			if err := newAPIClient(cfg).do(cmd.Context(), http.MethodPost, "/api/v1/appointments", body, &created); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "booked %s (%s)\n", created.AppointmentID, created.Status)
			return nil
		},
	}
	cmd.Flags().String("practitioner", "", "Practitioner id")
	cmd.Flags().String("pet", "", "Pet id")
	cmd.Flags().String("owner", "", "Owner id")
	cmd.Flags().String("date", "", "Date (YYYY-MM-DD)")
	cmd.Flags().String("time", "", "Slot start (HH:MM)")
	cmd.Flags().String("reason", "", "Reason for the visit")
	cmd.Flags().String("notes", "", "Notes for the practitioner")
	return cmd
}
