package azure

import (
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/google/uuid"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/config"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/sink"
)

// Build client from config and capture endpoint/SAS for HEAD validation.
// Priority: 1) SAS  2) Service Principal  3) DefaultAzureCredential.
func newClientFromConfig(c config.BlobConfig) (*azblob.Client, string, string, bool, error) {
	endpoint := strings.TrimSpace(c.Endpoint)
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", c.Account)
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}

	// 1) SAS
	if sasRaw := strings.TrimSpace(c.SASToken); sasRaw != "" {
		sas := strings.TrimPrefix(sasRaw, "?")
		cl, err := azblob.NewClientWithNoCredential(endpoint+"?"+sas, nil)
		return cl, endpoint, sas, true, err
	}

	// 2) Service Principal
	if c.ClientID != "" && c.ClientSecret != "" && c.TenantID != "" {
		cred, err := azidentity.NewClientSecretCredential(c.TenantID, c.ClientID, c.ClientSecret, nil)
		if err != nil {
			return nil, "", "", false, err
		}
		cl, err := azblob.NewClient(endpoint, cred, nil)
		return cl, endpoint, "", false, err
	}

	// 3) Managed Identity / DefaultAzureCredential
	defCred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, "", "", false, err
	}
	cl, err := azblob.NewClient(endpoint, defCred, nil)
	return cl, endpoint, "", false, err
}

func init() {
	sink.Register("blob", func(cfg any) (sink.Sink, error) {
		c, ok := cfg.(config.Config)
		if !ok {
			return nil, fmt.Errorf("blob: invalid config type")
		}
		client, endpoint, sas, viaSAS, err := newClientFromConfig(c.Sinks.Blob)
		if err != nil {
			return nil, err
		}
		return &BlobSink{
			client:     client,
			container:  c.Sinks.Blob.Container,
			prefix:     c.Sinks.Blob.Prefix,
			endpoint:   endpoint,
			sas:        sas,
			authViaSAS: viaSAS,
			ro:         c.RetryOptions(),
			now:        func() time.Time { return time.Now().UTC() },
			newID:      uuid.NewString,
		}, nil
	})
}
