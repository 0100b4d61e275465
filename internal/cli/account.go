package cli

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"unocoin-client/internal/exchange"
	"unocoin-client/internal/models"
	"unocoin-client/internal/security"
)

// addAccountCommands adds signup and KYC profile commands.
func addAccountCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newSignupCmd(app))
	rootCmd.AddCommand(newProfileCmd(app))
	rootCmd.AddCommand(newVerifyCmd(app))
}

func newSignupCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Register the wallet's email with the exchange",
		Long: `Register the wallet user with Unocoin.

The wallet vouches for the verified email with a signed token. The offline
token returned by the exchange is saved with the session.`,
		RunE: app.withSession(func(ctx context.Context, cmd *cobra.Command, args []string, out *Output) error {
			s := app.Session
			if s.HasAccount() {
				out.Warning("Already signed up as %s", s.User())
				return nil
			}
			if err := s.Signup(ctx); err != nil {
				return err
			}
			if out.IsJSON() {
				return out.JSON(map[string]any{"user": s.User(), "signed_up": true})
			}
			out.Success("Signed up as %s", s.User())
			out.Dim("Offline token saved to %s", app.Config.Store.Path)
			return nil
		}),
	}
}

func newProfileCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Show the KYC profile and trade limits",
		RunE: app.withSession(func(ctx context.Context, cmd *cobra.Command, args []string, out *Output) error {
			p, err := app.Session.FetchProfile(ctx)
			if err != nil {
				return err
			}
			if out.IsJSON() {
				return out.JSON(profileView(p))
			}
			printProfile(out, p)
			return nil
		}),
	}
}

func profileView(p *exchange.Profile) map[string]any {
	addr := p.Address()
	photos := map[string]string{}
	for _, slot := range models.PhotoSlots {
		switch ph := p.Photos()[slot]; {
		case ph == nil:
			photos[string(slot)] = "missing"
		case ph.IsPlaceholder():
			photos[string(slot)] = "on file"
		case ph.URL() != "":
			photos[string(slot)] = ph.URL()
		default:
			photos[string(slot)] = "captured"
		}
	}
	return map[string]any{
		"level":      p.Level(),
		"kyc_status": p.KYCStatus(),
		"email":      p.Email(),
		"full_name":  p.FullName(),
		"mobile":     p.Mobile(),
		"pancard":    security.MaskCredential(p.Pancard()),
		"bank": map[string]string{
			"account_number": security.MaskCredential(p.BankAccountNumber()),
			"ifsc":           p.IFSC(),
		},
		"address": map[string]string{
			"street":  addr.Street(),
			"city":    addr.City(),
			"state":   addr.State(),
			"zipcode": addr.Zipcode(),
			"country": addr.Country(),
		},
		"photos":    photos,
		"limits":    p.Limits(),
		"read_only": p.ReadOnly(),
		"complete":  p.Complete(),
	}
}

func printProfile(out *Output, p *exchange.Profile) {
	status := string(p.KYCStatus())
	switch p.KYCStatus() {
	case exchange.KYCVerified:
		status = out.Green(status)
	case exchange.KYCPending:
		status = out.Yellow(status)
	default:
		status = out.Red(status)
	}

	addr := p.Address()
	lines := []string{
		fmt.Sprintf("Email:    %s", p.Email()),
		fmt.Sprintf("KYC:      %s (level %d)", status, p.Level()),
		fmt.Sprintf("Name:     %s", p.FullName()),
		fmt.Sprintf("Mobile:   %s", p.Mobile()),
		fmt.Sprintf("PAN:      %s", security.MaskCredential(p.Pancard())),
		fmt.Sprintf("Bank:     %s / %s", security.MaskCredential(p.BankAccountNumber()), p.IFSC()),
		fmt.Sprintf("Address:  %s, %s, %s %s, %s", addr.Street(), addr.City(), addr.State(), addr.Zipcode(), addr.Country()),
	}
	out.Box("Unocoin Profile", lines)

	out.Println()
	out.Bold("Limits")
	l := p.Limits()
	table := NewTable(out, "", "MAX", "REMAINING")
	table.AddRow("Buy", FormatRupees(l.MaxBuy), FormatRupees(l.BuyRemaining))
	table.AddRow("Sell", FormatRupees(l.MaxSell), FormatRupees(l.SellRemaining))
	table.Render()

	if !p.Complete() {
		out.Println()
		out.Warning("Profile incomplete: identity=%v bank=%v photos=%v",
			p.IdentityComplete(), p.BankInfoComplete(), p.PhotosComplete())
	}
}

type verifyFlags struct {
	name     string
	mobile   string
	pan      string
	account  string
	ifsc     string
	street   string
	city     string
	state    string
	pincode  string
	country  string
	photos   []string
	validate bool
}

func newVerifyCmd(app *App) *cobra.Command {
	var f verifyFlags

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Fill in the KYC profile and submit it for review",
		Long: `Fill in missing KYC fields and submit the profile.

Photos are given as slot=path, where slot is one of pancard, address or
photo. Once submitted the profile becomes read-only.`,
		Example: `  unocoin verify --name "Asha Rao" --mobile 9876543210 --pan ABCDE1234F \
    --account 123456789012 --ifsc HDFC0001234 \
    --street "12 MG Road" --city Bengaluru --state Karnataka --pincode 560001 \
    --photo pancard=pan.jpg --photo address=aadhaar.jpg --photo photo=selfie.jpg`,
		RunE: app.withSession(func(ctx context.Context, cmd *cobra.Command, args []string, out *Output) error {
			if f.validate {
				if err := f.check(); err != nil {
					return err
				}
			}

			p, err := app.Session.FetchProfile(ctx)
			if err != nil {
				return err
			}
			if err := f.apply(p); err != nil {
				return err
			}
			if !p.Complete() {
				out.Warning("Profile incomplete: identity=%v bank=%v photos=%v",
					p.IdentityComplete(), p.BankInfoComplete(), p.PhotosComplete())
			}
			if err := p.Verify(ctx); err != nil {
				return err
			}

			if out.IsJSON() {
				return out.JSON(profileView(p))
			}
			out.Success("Profile submitted, KYC status %s", p.KYCStatus())
			return nil
		}),
	}

	cmd.Flags().StringVar(&f.name, "name", "", "full name as on PAN")
	cmd.Flags().StringVar(&f.mobile, "mobile", "", "10-digit mobile number")
	cmd.Flags().StringVar(&f.pan, "pan", "", "PAN card number")
	cmd.Flags().StringVar(&f.account, "account", "", "bank account number")
	cmd.Flags().StringVar(&f.ifsc, "ifsc", "", "bank IFSC code")
	cmd.Flags().StringVar(&f.street, "street", "", "street address")
	cmd.Flags().StringVar(&f.city, "city", "", "city")
	cmd.Flags().StringVar(&f.state, "state", "", "state")
	cmd.Flags().StringVar(&f.pincode, "pincode", "", "6-digit pincode")
	cmd.Flags().StringVar(&f.country, "country", "", "country")
	cmd.Flags().StringArrayVar(&f.photos, "photo", nil, "document photo as slot=path (repeatable)")
	cmd.Flags().BoolVar(&f.validate, "validate", true, "check field formats before submitting")

	return cmd
}

// check validates the formats of the fields given on the command line.
func (f *verifyFlags) check() error {
	checks := []struct {
		value string
		fn    func(string) error
	}{
		{f.pan, security.ValidatePAN},
		{f.ifsc, security.ValidateIFSC},
		{f.mobile, security.ValidateMobile},
		{f.pincode, security.ValidatePincode},
		{f.account, security.ValidateBankAccount},
	}
	for _, c := range checks {
		if c.value == "" {
			continue
		}
		if err := c.fn(c.value); err != nil {
			return err
		}
	}
	return nil
}

// apply copies the given flags onto p. Empty flags leave fields alone.
func (f *verifyFlags) apply(p *exchange.Profile) error {
	set := []struct {
		value string
		fn    func(string) error
	}{
		{f.name, p.SetFullName},
		{f.mobile, p.SetMobile},
		{strings.ToUpper(f.pan), p.SetPancard},
		{f.account, p.SetBankAccountNumber},
		{strings.ToUpper(f.ifsc), p.SetIFSC},
		{f.street, p.Address().SetStreet},
		{f.city, p.Address().SetCity},
		{f.state, p.Address().SetState},
		{f.pincode, p.Address().SetZipcode},
		{f.country, p.Address().SetCountry},
	}
	for _, s := range set {
		if s.value == "" {
			continue
		}
		if err := s.fn(s.value); err != nil {
			return err
		}
	}

	for _, arg := range f.photos {
		slotName, path, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("photo %q: expected slot=path", arg)
		}
		slot, err := models.ParsePhotoSlot(slotName)
		if err != nil {
			return err
		}
		encoded, err := readPhoto(path)
		if err != nil {
			return err
		}
		if err := p.AddPhoto(slot, encoded); err != nil {
			return err
		}
	}
	return nil
}

// readPhoto loads an image file as a base64 data URI.
func readPhoto(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading photo: %w", err)
	}
	mime := http.DetectContentType(data)
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
