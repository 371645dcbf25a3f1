package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"cloutfeed/go-backend/pkg/models"
)

func (a *app) run(ctx context.Context, name string, args []string) error {
	switch name {
	case "login":
		return a.cmdLogin(ctx, args)
	case "login-derived":
		return a.cmdLoginDerived(ctx, args)
	case "accounts":
		return a.cmdAccounts(ctx)
	case "logout":
		return a.cmdLogout(ctx, args)
	case "sign":
		return a.cmdSign(ctx, args)
	case "jwt":
		return a.cmdJWT(ctx, args)
	case "encrypt":
		return a.cmdEncrypt(ctx, args)
	case "decrypt":
		return a.cmdDecrypt(ctx, args)
	case "valid":
		return a.cmdValid(ctx, args)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
}

func newFlagSet(name string, errOut io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(errOut)
	return fs
}

func requireFlag(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: -%s is required", errUsage, name)
	}
	return nil
}

// session resolves the stored authority of publicKey.
func (a *app) session(ctx context.Context, publicKey string) (models.Session, error) {
	if err := requireFlag("account", publicKey); err != nil {
		return models.Session{}, err
	}
	derived, err := a.accounts.IsDerived(ctx, publicKey)
	if err != nil {
		return models.Session{}, err
	}
	return models.Session{PublicKey: publicKey, Derived: derived}, nil
}

func (a *app) cmdLogin(ctx context.Context, args []string) error {
	fs := newFlagSet("login", a.errOut)
	extra := fs.String("extra", "", "BIP39 passphrase (extra text)")
	expect := fs.String("expect", "", "expected public key; picks the matching derivation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mnemonic, err := a.readSecret("Mnemonic: ")
	if err != nil {
		return err
	}
	candidates, err := a.accounts.LoginWithMnemonic(mnemonic, *extra)
	if err != nil {
		return err
	}
	cred, err := pickCandidate(candidates, strings.TrimSpace(*expect))
	if err != nil {
		return err
	}
	if err := a.accounts.AddIdentity(ctx, cred); err != nil {
		return err
	}
	fmt.Fprintln(a.out, cred.Identity.OwnerPublicKey())
	return nil
}

// pickCandidate keeps the standard derivation unless the caller expects the
// account produced by the non-standard one.
func pickCandidate(c models.Candidates, expect string) (models.Credential, error) {
	if expect == "" || c.Standard.Identity.OwnerPublicKey() == expect {
		return c.Standard, nil
	}
	if c.Distinct() && c.NonStandard.Identity.OwnerPublicKey() == expect {
		return c.NonStandard, nil
	}
	return models.Credential{}, fmt.Errorf("mnemonic does not derive %s", expect)
}

func (a *app) cmdLoginDerived(ctx context.Context, args []string) error {
	fs := newFlagSet("login-derived", a.errOut)
	account := fs.String("account", "", "account being re-authenticated (optional)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	session, err := a.flow.Run(ctx, *account)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, session.PublicKey)
	return nil
}

func (a *app) cmdAccounts(ctx context.Context) error {
	keys, err := a.accounts.ListPublicKeys(ctx)
	if err != nil {
		return err
	}
	for _, pk := range keys {
		derived, err := a.accounts.IsDerived(ctx, pk)
		if err != nil {
			return err
		}
		kind := "standard"
		if derived {
			kind = "derived"
		}
		fmt.Fprintf(a.out, "%s\t%s\n", pk, kind)
	}
	return nil
}

func (a *app) cmdLogout(ctx context.Context, args []string) error {
	fs := newFlagSet("logout", a.errOut)
	account := fs.String("account", "", "account to remove")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("account", *account); err != nil {
		return err
	}
	next, err := a.flow.Logout(ctx, *account)
	if err != nil {
		return err
	}
	if next.IsZero() {
		fmt.Fprintln(a.out, "no accounts left")
		return nil
	}
	fmt.Fprintln(a.out, next.PublicKey)
	return nil
}

func (a *app) cmdSign(ctx context.Context, args []string) error {
	fs := newFlagSet("sign", a.errOut)
	account := fs.String("account", "", "signing account")
	txHex := fs.String("tx", "", "unsigned transaction hex")
	submit := fs.Bool("submit", false, "submit the signed transaction to the node")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("tx", *txHex); err != nil {
		return err
	}
	session, err := a.session(ctx, *account)
	if err != nil {
		return err
	}
	signed, err := a.signer.SignTransaction(ctx, session, strings.TrimSpace(*txHex))
	if err != nil {
		return err
	}
	if !*submit {
		fmt.Fprintln(a.out, signed)
		return nil
	}
	hash, err := a.node.SubmitTransaction(ctx, signed)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, hash)
	return nil
}

func (a *app) cmdJWT(ctx context.Context, args []string) error {
	fs := newFlagSet("jwt", a.errOut)
	account := fs.String("account", "", "account issuing the token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	session, err := a.session(ctx, *account)
	if err != nil {
		return err
	}
	token, err := a.signer.SignJWT(ctx, session)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, token)
	return nil
}

func (a *app) cmdEncrypt(ctx context.Context, args []string) error {
	fs := newFlagSet("encrypt", a.errOut)
	account := fs.String("account", "", "sending account")
	to := fs.String("to", "", "recipient public key")
	message := fs.String("message", "", "plaintext")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("to", *to); err != nil {
		return err
	}
	session, err := a.session(ctx, *account)
	if err != nil {
		return err
	}
	out, err := a.signer.EncryptShared(ctx, session, *to, *message)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, out)
	return nil
}

func (a *app) cmdDecrypt(ctx context.Context, args []string) error {
	fs := newFlagSet("decrypt", a.errOut)
	account := fs.String("account", "", "receiving account")
	from := fs.String("from", "", "other party public key; empty decrypts data addressed to the account")
	ciphertext := fs.String("hex", "", "ciphertext hex")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("hex", *ciphertext); err != nil {
		return err
	}
	session, err := a.session(ctx, *account)
	if err != nil {
		return err
	}
	var plain string
	if strings.TrimSpace(*from) == "" {
		plain, err = a.signer.DecryptData(ctx, session, *ciphertext)
	} else {
		plain, err = a.signer.DecryptShared(ctx, session, *from, *ciphertext)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, plain)
	return nil
}

func (a *app) cmdValid(ctx context.Context, args []string) error {
	fs := newFlagSet("valid", a.errOut)
	account := fs.String("account", "", "derived account")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("account", *account); err != nil {
		return err
	}
	valid, err := a.flow.IsValid(ctx, *account)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, valid)
	return nil
}
