// Command sweepctl triggers compliance sweeps on a running API. It is meant to be run
// by cron or a Kubernetes CronJob and mints a short-lived SYSTEM token from the shared
// JWT secret.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
	"github.com/noah-isme/fleet-compliance-api/internal/service"
	"github.com/noah-isme/fleet-compliance-api/pkg/config"
	"github.com/noah-isme/fleet-compliance-api/pkg/logger"
)

type triggerBody struct {
	AsOf      string `json:"as_of,omitempty"`
	WeekStart string `json:"week_start,omitempty"`
	Async     bool   `json:"async"`
}

type outcome struct {
	Sweep    string
	Status   int
	Report   *models.SweepReport
	Job      *models.SweepJob
	Err      error
	Duration time.Duration
}

func main() {
	var (
		baseURL   string
		sweeps    string
		asOf      string
		weekStart string
		org       string
		async     bool
		timeout   time.Duration
	)

	flag.StringVar(&baseURL, "base", "http://localhost:8080/api/v1", "API base URL including the prefix")
	flag.StringVar(&sweeps, "sweeps", strings.Join([]string{models.SweepLedgerExpiry, models.SweepInfringementExpiry, models.SweepWeeklyRestEvaluation}, ","), "Comma separated sweeps to run in order")
	flag.StringVar(&asOf, "as-of", "", "Run date (YYYY-MM-DD), defaults to today on the server")
	flag.StringVar(&weekStart, "week-start", "", "Week to evaluate for weekly-rest-evaluation")
	flag.StringVar(&org, "org", "system", "Organization claim of the minted token")
	flag.BoolVar(&async, "async", false, "Queue sweeps instead of waiting for their reports")
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "HTTP client timeout per sweep")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	tokens := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer, Audience: cfg.JWT.Audience})
	token, err := tokens.Issue("sweepctl", org, models.RoleSystem, timeout+time.Minute)
	if err != nil {
		logr.Fatal("failed to mint token", zap.Error(err))
	}

	client := &http.Client{Timeout: timeout}
	body := triggerBody{AsOf: asOf, WeekStart: weekStart, Async: async}

	failed := 0
	for _, name := range strings.Split(sweeps, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		res := trigger(client, baseURL, token, name, body)
		fields := []zap.Field{zap.String("sweep", name), zap.Int("status", res.Status), zap.Duration("duration", res.Duration)}
		switch {
		case res.Err != nil:
			failed++
			logr.Error("sweep failed", append(fields, zap.Error(res.Err))...)
		case res.Job != nil:
			logr.Info("sweep queued", append(fields, zap.String("job_id", res.Job.ID))...)
		case res.Report != nil:
			if res.Report.Failed > 0 {
				failed++
			}
			logr.Info("sweep finished", append(fields,
				zap.Int("processed", res.Report.Processed),
				zap.Int("succeeded", res.Report.Succeeded),
				zap.Int("failed", res.Report.Failed),
			)...)
		}
	}
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d sweep(s) reported failures\n", failed)
		os.Exit(1)
	}
}

func trigger(client *http.Client, baseURL, token, name string, body triggerBody) outcome {
	res := outcome{Sweep: name}
	payload, err := json.Marshal(body)
	if err != nil {
		res.Err = err
		return res
	}
	url := strings.TrimRight(baseURL, "/") + "/sweeps/" + name
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		res.Err = err
		return res
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := client.Do(req)
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = fmt.Errorf("post %s: %w", url, err)
		return res
	}
	defer resp.Body.Close()
	res.Status = resp.StatusCode

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		res.Err = fmt.Errorf("read body: %w", err)
		return res
	}

	var envelope struct {
		Data  json.RawMessage `json:"data"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		res.Err = fmt.Errorf("decode response (%d): %w", resp.StatusCode, err)
		return res
	}
	switch {
	case envelope.Error != nil:
		res.Err = fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message)
	case resp.StatusCode == http.StatusAccepted:
		res.Job = &models.SweepJob{}
		res.Err = json.Unmarshal(envelope.Data, res.Job)
	case resp.StatusCode == http.StatusOK:
		res.Report = &models.SweepReport{}
		res.Err = json.Unmarshal(envelope.Data, res.Report)
	default:
		res.Err = fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return res
}
