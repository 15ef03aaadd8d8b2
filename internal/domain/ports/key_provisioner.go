package ports

import "context"

// AccessKey is a remote VPN key issued by the provisioner: an opaque id plus
// a client-usable ss:// URL.
type AccessKey struct {
	ID        string
	AccessURL string
}

// KeyProvisioner is the external VPN key-issuance API. Stateless and safe for
// concurrent use. Implementations retry transient transport failures with
// exponential backoff inside a bounded total budget.
type KeyProvisioner interface {
	// CreateKey mints a new remote access key; name is advisory
	CreateKey(ctx context.Context, name string) (*AccessKey, error)
	// DeleteKey destroys a remote key; a missing key (404) is success
	DeleteKey(ctx context.Context, id string) error
	// TransferMetrics returns per-key transferred bytes
	TransferMetrics(ctx context.Context) (map[string]int64, error)
}
