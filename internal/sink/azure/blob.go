// Package azure delivers token batches to Azure Blob Storage as JSON lines.
package azure

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/retry"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/sink"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/util"
)

const keyLayout = "2006-01-02T15-04-05.000Z"

type BlobSink struct {
	client     *azblob.Client
	container  string
	prefix     string
	endpoint   string // e.g. https://<account>.blob.core.windows.net/
	sas        string // raw SAS without leading "?"
	authViaSAS bool
	ro         retry.Options
	now        func() time.Time
	newID      func() string
}

func (p *BlobSink) Name() string { return "blob" }

// buildKey returns "<prefix>/<timestamp>-<id>.jsonl". The id keeps runs
// within the same millisecond from overwriting each other.
func (p *BlobSink) buildKey() string {
	prefix := strings.Trim(strings.TrimSpace(p.prefix), "/")
	if prefix == "" {
		prefix = "tokens"
	}
	return prefix + "/" + p.now().Format(keyLayout) + "-" + p.newID() + ".jsonl"
}

// Write uploads records as one JSON-lines blob and validates it
// (HEAD with SAS, list otherwise).
func (p *BlobSink) Write(ctx context.Context, records []sink.Record) error {
	data, err := sink.Encode(records, sink.FormatJSON)
	if err != nil {
		return err
	}
	if err := p.ensureContainer(ctx); err != nil {
		return fmt.Errorf("ensure container: %w", err)
	}
	key := p.buildKey()

	sum, size, err := util.SHA256Reader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("checksum: %w", err)
	}

	upStart := time.Now()
	upAttempt := 0
	uploadOnce := func(ctx context.Context) error {
		upAttempt++
		log.Debug().Str("action", "azure_upload").Str("container", p.container).Str("key", key).
			Int("attempt", upAttempt).Msg("starting attempt")

		_, err := p.client.UploadBuffer(ctx, p.container, key, data, &azblob.UploadBufferOptions{
			Metadata:    map[string]*string{"sha256": to.Ptr(sum)},
			HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr("application/x-ndjson")},
		})
		if err != nil {
			log.Debug().Err(err).Str("action", "azure_upload").Str("container", p.container).Str("key", key).
				Int("attempt", upAttempt).Msg("attempt failed")
			return err
		}
		return nil
	}
	if err := retry.Do(ctx, p.ro, p.isAzRetryable, uploadOnce); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	log.Info().Str("action", "azure_upload").Str("container", p.container).Str("key", key).
		Int("records", len(records)).Int("attempts", upAttempt).Dur("elapsed_ms", time.Since(upStart)).Msg("upload OK")

	if p.authViaSAS {
		return p.validateByHead(ctx, key, size, sum)
	}
	return p.validateByList(ctx, key, size)
}

func (p *BlobSink) validateByHead(ctx context.Context, key string, size int64, sum string) error {
	start := time.Now()
	attempt := 0
	headOnce := func(ctx context.Context) error {
		attempt++
		remoteSize, remoteSHA, err := p.headSizeAndSHA(ctx, key)
		if err != nil {
			log.Debug().Err(err).Str("action", "azure_head").Str("container", p.container).Str("key", key).
				Int("attempt", attempt).Msg("attempt failed")
			return err
		}
		if remoteSize != size {
			return fmt.Errorf("size mismatch: local=%d, remote=%d", size, remoteSize)
		}
		if remoteSHA == "" {
			return fmt.Errorf("missing metadata: sha256")
		}
		if remoteSHA != sum {
			return fmt.Errorf("sha256 mismatch: local=%s, remote=%s", sum, remoteSHA)
		}
		return nil
	}
	if err := retry.Do(ctx, p.ro, p.isAzRetryable, headOnce); err != nil {
		return fmt.Errorf("validate (head): %w", err)
	}
	log.Debug().Str("action", "azure_head").Str("container", p.container).Str("key", key).
		Int("attempts", attempt).Dur("elapsed_ms", time.Since(start)).Msg("validation OK (sha256 & size)")
	return nil
}

func (p *BlobSink) validateByList(ctx context.Context, key string, size int64) error {
	start := time.Now()
	attempt := 0
	validateOnce := func(ctx context.Context) error {
		attempt++
		found, remoteSize, err := p.validateSizeByList(ctx, key)
		if err != nil {
			log.Debug().Err(err).Str("action", "azure_list_validate").Str("container", p.container).Str("key", key).
				Int("attempt", attempt).Msg("attempt failed")
			return err
		}
		if !found {
			return fmt.Errorf("uploaded blob not found at %q", key)
		}
		if remoteSize != size {
			return fmt.Errorf("size mismatch: local=%d, remote=%d", size, remoteSize)
		}
		return nil
	}
	if err := retry.Do(ctx, p.ro, p.isAzRetryable, validateOnce); err != nil {
		return fmt.Errorf("validate (list): %w", err)
	}
	log.Debug().Str("action", "azure_list_validate").Str("container", p.container).Str("key", key).
		Int("attempts", attempt).Dur("elapsed_ms", time.Since(start)).Msg("validation OK (size)")
	return nil
}
