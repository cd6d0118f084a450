// Command bootstrap-api-key mints the first API key directly in Postgres,
// before any admin key exists to call the HTTP API with.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/clockdesk/clockdesk/internal/auth"
	"github.com/clockdesk/clockdesk/internal/middleware"
	"github.com/clockdesk/clockdesk/internal/model"
	"github.com/clockdesk/clockdesk/internal/repository"
	"github.com/clockdesk/clockdesk/internal/secret"
)

type options struct {
	databaseURL string
	sealingKey  string
	ownerID     string
	tenantScope string
	name        string
	scopes      string
	tier        string
	env         string
	format      string
}

type minted struct {
	OwnerID     string   `json:"owner_id"`
	TenantScope string   `json:"tenant_scope,omitempty"`
	KeyID       string   `json:"key_id"`
	Key         string   `json:"key"`
	KeyPrefix   string   `json:"key_prefix"`
	Scopes      []string `json:"scopes"`
	Tier        string   `json:"rate_limit_tier"`
}

func main() {
	var o options
	flag.StringVar(&o.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	flag.StringVar(&o.sealingKey, "sealing-key", os.Getenv("CREDENTIAL_SEALING_KEY"), "hex credential sealing key")
	flag.StringVar(&o.ownerID, "owner-id", "operator", "owner recorded on the key")
	flag.StringVar(&o.tenantScope, "tenant-scope", "", "location or company the key is bound to; empty for an operator key")
	flag.StringVar(&o.name, "name", "bootstrap", "key name")
	flag.StringVar(&o.scopes, "scopes", model.ScopeAdmin, "comma-separated scopes: read, write, admin")
	flag.StringVar(&o.tier, "tier", model.TierUnlimited, "rate limit tier: free, pro, unlimited")
	flag.StringVar(&o.env, "env", auth.EnvLive, "key environment: live or test")
	flag.StringVar(&o.format, "format", "plain", "output format: plain or json")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := run(ctx, o, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "bootstrap-api-key:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, out io.Writer) error {
	if o.databaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if o.format != "plain" && o.format != "json" {
		return fmt.Errorf("unknown format %q", o.format)
	}
	if !model.ValidTier(o.tier) {
		return fmt.Errorf("unknown tier %q", o.tier)
	}
	scopes, err := parseScopes(o.scopes)
	if err != nil {
		return err
	}
	tenant := strings.TrimSpace(o.tenantScope)
	if tenant != "" {
		if err := middleware.ValidateIdentifier(tenant); err != nil {
			return fmt.Errorf("tenant scope: %w", err)
		}
	}

	sealer, err := secret.NewSealer(o.sealingKey)
	if err != nil {
		return fmt.Errorf("CREDENTIAL_SEALING_KEY: %w", err)
	}
	repo, err := repository.New(ctx, o.databaseURL, sealer)
	if err != nil {
		return err
	}
	defer repo.Close()

	key, err := auth.GenerateAPIKey(o.env)
	if err != nil {
		return err
	}
	record := &model.APIKey{
		ID:            ulid.Make().String(),
		OwnerID:       o.ownerID,
		TenantScope:   tenant,
		KeyHash:       key.Hash,
		KeyPrefix:     key.Prefix,
		Scopes:        scopes,
		RateLimitTier: o.tier,
		Name:          o.name,
		CreatedAt:     time.Now().UTC(),
	}
	if err := repo.CreateAPIKey(ctx, record); err != nil {
		return err
	}

	if o.format == "plain" {
		_, err := fmt.Fprintln(out, key.Plaintext)
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(minted{
		OwnerID:     record.OwnerID,
		TenantScope: record.TenantScope,
		KeyID:       record.ID,
		Key:         key.Plaintext,
		KeyPrefix:   record.KeyPrefix,
		Scopes:      scopes,
		Tier:        record.RateLimitTier,
	})
}

// parseScopes reads a comma list, defaulting to admin when it is blank.
func parseScopes(input string) ([]string, error) {
	var scopes []string
	for _, s := range strings.Split(input, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !model.ValidScope(s) {
			return nil, fmt.Errorf("unknown scope %q", s)
		}
		scopes = append(scopes, s)
	}
	if len(scopes) == 0 {
		return []string{model.ScopeAdmin}, nil
	}
	return scopes, nil
}
