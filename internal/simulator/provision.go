package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"procodus.dev/hotbox/pkg/generator"
)

// Provisioner registers fake boxes and sensors through the REST API so
// simulated readings have somewhere to land.
type Provisioner struct {
	logger  *slog.Logger
	client  *http.Client
	baseURL string
}

// NewProvisioner creates a provisioner for the API at baseURL.
func NewProvisioner(logger *slog.Logger, baseURL string, client *http.Client) (*Provisioner, error) {
	if logger == nil {
		return nil, errLoggerRequired
	}
	if baseURL == "" {
		return nil, errors.New("api url cannot be empty")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Provisioner{
		logger:  logger.With("component", "provisioner"),
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Provision creates one box with sensorCount random sensors.
func (p *Provisioner) Provision(ctx context.Context, sensorCount int) (Box, error) {
	var created struct {
		ID string `json:"id"`
	}
	if err := p.post(ctx, "/api/box", generator.NewBoxMetadata(), &created); err != nil {
		return Box{}, fmt.Errorf("create box: %w", err)
	}

	box := Box{ID: created.ID}
	for i := 0; i < sensorCount; i++ {
		sensor := generator.NewSensor()
		if sensor == nil {
			return box, errors.New("failed to generate sensor")
		}
		if err := p.post(ctx, "/api/box/"+box.ID+"/sensors", sensor, nil); err != nil {
			return box, fmt.Errorf("create sensor %s: %w", sensor.ID, err)
		}
		box.Sensors = append(box.Sensors, sensor.ID)
	}

	p.logger.Info("provisioned box", "box_id", box.ID, "sensors", len(box.Sensors))
	return box, nil
}

func (p *Provisioner) post(ctx context.Context, path string, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, apiErr.Error)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
