// Package azure implements statestore.Store on an Azure Blob Storage
// container, one block blob per key.
package azure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/rzbill/maestro/internal/statestore"
)

const maxBlobSize = 1 << 20

// Config controls connectivity to Azure Blob Storage.
type Config struct {
	Account    string
	AccountKey string
	// Endpoint overrides https://<account>.blob.core.windows.net, e.g. for Azurite.
	Endpoint  string
	SASToken  string
	Container string
	Prefix    string
}

// Store implements statestore.Store.
type Store struct {
	client    *azblob.Client
	container string
	prefix    string
}

var _ statestore.Store = (*Store)(nil)

// New builds a client and makes sure the container exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Account == "" {
		return nil, fmt.Errorf("azure: account is required")
	}
	if cfg.Container == "" {
		return nil, fmt.Errorf("azure: container is required")
	}
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := client.CreateContainer(ctx, cfg.Container, nil); err != nil && !isContainerExists(err) {
		return nil, fmt.Errorf("azure: create container: %w", err)
	}
	return &Store{client: client, container: cfg.Container, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

func newClient(cfg Config) (*azblob.Client, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.Account)
	}
	if cfg.SASToken != "" {
		withSAS, err := appendSASToken(endpoint, cfg.SASToken)
		if err != nil {
			return nil, err
		}
		client, err := azblob.NewClientWithNoCredential(withSAS, nil)
		if err != nil {
			return nil, fmt.Errorf("azure: create client: %w", err)
		}
		return client, nil
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure: account key or SAS token required")
	}
	cred, err := azblob.NewSharedKeyCredential(cfg.Account, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("azure: build credentials: %w", err)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(endpoint, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azure: create client: %w", err)
	}
	return client, nil
}

func appendSASToken(endpoint, sas string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("azure: parse endpoint: %w", err)
	}
	sas = strings.TrimPrefix(sas, "?")
	if u.RawQuery != "" {
		u.RawQuery = u.RawQuery + "&" + sas
	} else {
		u.RawQuery = sas
	}
	return u.String(), nil
}

func (s *Store) blobName(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.client.UploadBuffer(ctx, s.container, s.blobName(key), value, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr("application/json")},
	})
	if err != nil {
		return fmt.Errorf("azure: upload %q: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, s.blobName(key), nil)
	if err != nil {
		if isNotFound(err) {
			return nil, statestore.ErrNotFound
		}
		return nil, fmt.Errorf("azure: download %q: %w", key, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobSize))
	if err != nil {
		return nil, fmt.Errorf("azure: read %q: %w", key, err)
	}
	return bytes.Clone(data), nil
}

func (s *Store) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	full := s.blobName(prefix)
	if s.prefix != "" && prefix == "" {
		full += "/"
	}
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{Prefix: &full})
	out := make(map[string][]byte)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("azure: list %q: %w", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			key := *item.Name
			if s.prefix != "" {
				key = strings.TrimPrefix(key, s.prefix+"/")
			}
			v, err := s.Get(ctx, key)
			if errors.Is(err, statestore.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out[key] = v
		}
	}
	return out, nil
}

func isContainerExists(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusConflict && strings.EqualFold(respErr.ErrorCode, "ContainerAlreadyExists")
	}
	return false
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusNotFound
	}
	return false
}
