package desoapi

import (
	"context"
	"errors"
	"fmt"
)

// DerivedPublicKeyExtraKey is the transaction extra data entry naming the
// derived key that signed it.
const DerivedPublicKeyExtraKey = "DerivedPublicKey"

var ErrEmptyTransaction = errors.New("node returned no transaction hex")

type ProfileEntry struct {
	Username string `json:"Username"`
}

type User struct {
	PublicKeyBase58Check string        `json:"PublicKeyBase58Check"`
	BalanceNanos         uint64        `json:"BalanceNanos"`
	ProfileEntryResponse *ProfileEntry `json:"ProfileEntryResponse"`
}

type getUsersStatelessRequest struct {
	PublicKeysBase58Check []string `json:"PublicKeysBase58Check"`
	SkipForLeaderboard    bool     `json:"SkipForLeaderboard"`
}

type getUsersStatelessResponse struct {
	UserList []User `json:"UserList"`
}

// GetUsersStateless fetches balances and profiles for publicKeys.
func (c *Client) GetUsersStateless(ctx context.Context, publicKeys ...string) ([]User, error) {
	var resp getUsersStatelessResponse
	err := c.post(ctx, "get-users-stateless", getUsersStatelessRequest{
		PublicKeysBase58Check: publicKeys,
		SkipForLeaderboard:    true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.UserList, nil
}

// Balance returns the balance of one account; an unknown account has zero.
func (c *Client) Balance(ctx context.Context, publicKey string) (uint64, error) {
	users, err := c.GetUsersStateless(ctx, publicKey)
	if err != nil {
		return 0, err
	}
	for _, u := range users {
		if u.PublicKeyBase58Check == publicKey {
			return u.BalanceNanos, nil
		}
	}
	return 0, nil
}

type transactionResponse struct {
	TransactionHex string `json:"TransactionHex"`
}

func (r transactionResponse) hex(endpoint string) (string, error) {
	if r.TransactionHex == "" {
		return "", fmt.Errorf("%s: %w", endpoint, ErrEmptyTransaction)
	}
	return r.TransactionHex, nil
}

type sendDeSoRequest struct {
	SenderPublicKeyBase58Check   string `json:"SenderPublicKeyBase58Check"`
	RecipientPublicKeyOrUsername string `json:"RecipientPublicKeyOrUsername"`
	AmountNanos                  uint64 `json:"AmountNanos"`
	MinFeeRateNanosPerKB         uint64 `json:"MinFeeRateNanosPerKB"`
}

// SendDeSo builds an unsigned transfer transaction.
func (c *Client) SendDeSo(ctx context.Context, sender, recipient string, amountNanos, feeRateNanosPerKB uint64) (string, error) {
	var resp transactionResponse
	err := c.post(ctx, "send-deso", sendDeSoRequest{
		SenderPublicKeyBase58Check:   sender,
		RecipientPublicKeyOrUsername: recipient,
		AmountNanos:                  amountNanos,
		MinFeeRateNanosPerKB:         feeRateNanosPerKB,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.hex("send-deso")
}

type submitTransactionRequest struct {
	TransactionHex string `json:"TransactionHex"`
}

type submitTransactionResponse struct {
	TxnHashHex string `json:"TxnHashHex"`
}

// SubmitTransaction broadcasts a signed transaction and returns its hash.
func (c *Client) SubmitTransaction(ctx context.Context, signedHex string) (string, error) {
	var resp submitTransactionResponse
	if err := c.post(ctx, "submit-transaction", submitTransactionRequest{TransactionHex: signedHex}, &resp); err != nil {
		return "", err
	}
	return resp.TxnHashHex, nil
}

// AuthorizeDerivedKeyRequest grants (or, with DeleteKey, revokes) a derived
// key's signing rights on the owner account.
type AuthorizeDerivedKeyRequest struct {
	OwnerPublicKeyBase58Check   string `json:"OwnerPublicKeyBase58Check"`
	DerivedPublicKeyBase58Check string `json:"DerivedPublicKeyBase58Check"`
	ExpirationBlock             uint64 `json:"ExpirationBlock"`
	AccessSignature             string `json:"AccessSignature"`
	DeleteKey                   bool   `json:"DeleteKey"`
	DerivedKeySignature         bool   `json:"DerivedKeySignature"`
	TransactionSpendingLimitHex string `json:"TransactionSpendingLimitHex,omitempty"`
	MinFeeRateNanosPerKB        uint64 `json:"MinFeeRateNanosPerKB"`
}

func (c *Client) AuthorizeDerivedKey(ctx context.Context, req AuthorizeDerivedKeyRequest) (string, error) {
	var resp transactionResponse
	if err := c.post(ctx, "authorize-derived-key", req, &resp); err != nil {
		return "", err
	}
	return resp.hex("authorize-derived-key")
}

type appendExtraDataRequest struct {
	TransactionHex string            `json:"TransactionHex"`
	ExtraData      map[string]string `json:"ExtraData"`
}

// AppendExtraData tags transactionHex with the compressed derived public key
// that will sign it.
func (c *Client) AppendExtraData(ctx context.Context, transactionHex, derivedPublicKey string) (string, error) {
	var resp transactionResponse
	err := c.post(ctx, "append-extra-data", appendExtraDataRequest{
		TransactionHex: transactionHex,
		ExtraData:      map[string]string{DerivedPublicKeyExtraKey: derivedPublicKey},
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.hex("append-extra-data")
}

type DerivedKeyEntry struct {
	DerivedPublicKeyBase58Check string `json:"DerivedPublicKeyBase58Check"`
	ExpirationBlock             uint64 `json:"ExpirationBlock"`
	IsValid                     bool   `json:"IsValid"`
}

type getUserDerivedKeysRequest struct {
	PublicKeyBase58Check string `json:"PublicKeyBase58Check"`
}

type getUserDerivedKeysResponse struct {
	DerivedKeys map[string]DerivedKeyEntry `json:"DerivedKeys"`
}

// GetUsersDerivedKeys lists the derived keys registered for an owner, keyed by
// derived public key.
func (c *Client) GetUsersDerivedKeys(ctx context.Context, publicKey string) (map[string]DerivedKeyEntry, error) {
	var resp getUserDerivedKeysResponse
	if err := c.post(ctx, "get-user-derived-keys", getUserDerivedKeysRequest{PublicKeyBase58Check: publicKey}, &resp); err != nil {
		return nil, err
	}
	if resp.DerivedKeys == nil {
		resp.DerivedKeys = map[string]DerivedKeyEntry{}
	}
	return resp.DerivedKeys, nil
}
