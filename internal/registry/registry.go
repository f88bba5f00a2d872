// Package registry looks up company data for a CNPJ at the federal registry
// through BrasilAPI.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when the registry has no company for the CNPJ
var ErrNotFound = errors.New("cnpj not found in registry")

// Company is the subset of the registry record the service uses
type Company struct {
	CNPJ         string `json:"cnpj"`
	LegalName    string `json:"razao_social"`
	TradeName    string `json:"nome_fantasia"`
	City         string `json:"municipio"`
	State        string `json:"uf"`
	CityIBGECode int    `json:"codigo_municipio_ibge"`
	Status       string `json:"descricao_situacao_cadastral"`
}

// Client queries BrasilAPI
type Client struct {
	http *resty.Client
	log  zerolog.Logger
}

// NewClient creates a registry client
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(1*time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	return &Client{http: client, log: log}
}

// Company fetches the registry record for a normalized CNPJ
func (c *Client) Company(ctx context.Context, cnpj string) (*Company, error) {
	var company Company
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("cnpj", cnpj).
		SetResult(&company).
		Get("/api/cnpj/v1/{cnpj}")
	if err != nil {
		return nil, fmt.Errorf("failed to query registry: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.IsError():
		return nil, fmt.Errorf("registry returned status %d", resp.StatusCode())
	}
	return &company, nil
}

// Lookup returns the legal name (razão social) for cnpj
func (c *Client) Lookup(ctx context.Context, cnpj string) (string, error) {
	company, err := c.Company(ctx, cnpj)
	if err != nil {
		return "", err
	}

	name := strings.TrimSpace(company.LegalName)
	if name == "" {
		name = strings.TrimSpace(company.TradeName)
	}
	c.log.Debug().Str("cnpj", cnpj).Str("razao_social", name).Msg("registry lookup")
	return name, nil
}
