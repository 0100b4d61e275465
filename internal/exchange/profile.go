package exchange

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	apperrors "unocoin-client/internal/errors"
	"unocoin-client/internal/models"
)

// Verification levels.
const (
	LevelNew       = 1
	LevelSubmitted = 2
	LevelApproved  = 3
)

// Limits are the account's trading allowances in whole rupees.
type Limits struct {
	MaxBuy        int64
	MaxSell       int64
	BuyRemaining  int64
	SellRemaining int64
}

// Profile is the account's identity record. It is writable while the
// account is new and locks once submitted for review.
type Profile struct {
	api    API
	logger zerolog.Logger

	level             int
	email             string
	fullName          string
	mobile            string
	pancard           string
	bankAccountNumber string
	ifsc              string
	bankAccount       models.BankAccount
	address           *models.Address
	photos            models.PhotoSet
	limits            Limits
	kycStatus         KYCStatus

	dirty    bool
	readOnly bool
}

type vendorProfile struct {
	envelope
	UserStatus        flexNumber `json:"user_status"`
	Status            string     `json:"status"`
	Email             string     `json:"email_id"`
	Name              string     `json:"name"`
	PhoneNumber       string     `json:"phone_number"`
	Street            string     `json:"addobjs"`
	StateCityPin      string     `json:"state_city_pin"`
	Country           string     `json:"country"`
	PancardNumber     string     `json:"pancard_number"`
	Photo             string     `json:"photo"`
	Passport          string     `json:"passport"`
	Pancard           string     `json:"pancard"`
	AdharDL           string     `json:"adhar_dl"`
	PhotoImg          string     `json:"photo_img"`
	MaxBuyLimit       flexNumber `json:"max_buy_limit"`
	MaxSellLimit      flexNumber `json:"max_sell_limit"`
	UserBuyLimit      flexNumber `json:"user_buy_limit"`
	UserSellLimit     flexNumber `json:"user_sell_limit"`
	BankAccountType   string     `json:"bank_account_type"`
	BankIFSC          string     `json:"bank_ifsc_code"`
	BankAccountNumber string     `json:"bank_account_number"`
	BankName          string     `json:"bank_name"`
	BankAccountName   string     `json:"bank_account_name"`
}

// NewProfile parses the exchange's flat profile object. Read-only is
// inferred from the level alone.
func NewProfile(raw json.RawMessage, api API, logger zerolog.Logger) (*Profile, error) {
	var v vendorProfile
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, apperrors.Wrap(err, "decoding profile")
	}
	level := int(v.UserStatus)
	if level < LevelNew {
		level = LevelNew
	}

	p := &Profile{
		api:               api,
		logger:            logger,
		level:             level,
		email:             v.Email,
		fullName:          v.Name,
		mobile:            v.PhoneNumber,
		pancard:           v.PancardNumber,
		bankAccountNumber: v.BankAccountNumber,
		ifsc:              v.BankIFSC,
		bankAccount: models.BankAccount{
			Type:       v.BankAccountType,
			Currency:   models.INR,
			IFSC:       v.BankIFSC,
			Number:     v.BankAccountNumber,
			BankName:   v.BankName,
			HolderName: v.BankAccountName,
		},
		photos: models.PhotoSet{},
		limits: Limits{
			MaxBuy:        round(float64(v.MaxBuyLimit)),
			MaxSell:       round(float64(v.MaxSellLimit)),
			BuyRemaining:  round(float64(v.UserBuyLimit)),
			SellRemaining: round(float64(v.UserSellLimit)),
		},
	}

	if v.Status != "" {
		p.kycStatus = ParseKYCStatus(v.Status, logger)
	} else {
		p.kycStatus = KYCStatusForLevel(level)
	}

	state, city, pin := splitStateCityPin(v.StateCityPin)
	country := v.Country
	if country == "" {
		country = "India"
	}
	p.address = models.NewAddress(v.Street, city, state, pin, country)

	if isYes(v.Pancard) {
		p.photos[models.PhotoPancard] = models.PlaceholderPhoto()
	}
	if isYes(v.AdharDL) || isYes(v.Passport) {
		p.photos[models.PhotoAddress] = models.PlaceholderPhoto()
	}
	if v.PhotoImg != "" && api != nil {
		p.photos[models.PhotoSelfie] = models.NewStoredPhoto(api.PhotoURL(v.PhotoImg))
	} else if isYes(v.Photo) {
		p.photos[models.PhotoSelfie] = models.PlaceholderPhoto()
	}

	if level > LevelNew {
		p.readOnly = true
		p.address.Lock()
	}
	return p, nil
}

// FetchProfile loads the profile. It makes no changes on the exchange.
func FetchProfile(ctx context.Context, api API, logger zerolog.Logger) (*Profile, error) {
	raw, err := api.AuthGET(ctx, endpointProfile, nil, nil)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, apperrors.Wrap(err, "decoding profile")
	}
	if env.StatusCode != 0 && env.StatusCode != statusOK {
		return nil, apperrors.NewVendorError(env.StatusCode, env.Message)
	}
	return NewProfile(raw, api, logger)
}

// splitStateCityPin splits "Karnataka*Bangalore*560011".
func splitStateCityPin(s string) (state, city, pin string) {
	parts := strings.SplitN(s, "*", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2])
}

func isYes(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "yes")
}

func (p *Profile) Level() int                      { return p.level }
func (p *Profile) Email() string                   { return p.email }
func (p *Profile) FullName() string                { return p.fullName }
func (p *Profile) Mobile() string                  { return p.mobile }
func (p *Profile) Pancard() string                 { return p.pancard }
func (p *Profile) BankAccountNumber() string       { return p.bankAccountNumber }
func (p *Profile) IFSC() string                    { return p.ifsc }
func (p *Profile) BankAccount() models.BankAccount { return p.bankAccount }
func (p *Profile) Address() *models.Address        { return p.address }
func (p *Profile) Photos() models.PhotoSet         { return p.photos }
func (p *Profile) Limits() Limits                  { return p.limits }
func (p *Profile) KYCStatus() KYCStatus            { return p.kycStatus }
func (p *Profile) ReadOnly() bool                  { return p.readOnly }

// Dirty reports whether the profile or its address changed since the last
// successful submission.
func (p *Profile) Dirty() bool {
	return p.dirty || p.address.Dirty()
}

func (p *Profile) SetFullName(v string) error          { return p.set(&p.fullName, v) }
func (p *Profile) SetMobile(v string) error            { return p.set(&p.mobile, v) }
func (p *Profile) SetPancard(v string) error           { return p.set(&p.pancard, v) }
func (p *Profile) SetBankAccountNumber(v string) error { return p.set(&p.bankAccountNumber, v) }
func (p *Profile) SetIFSC(v string) error              { return p.set(&p.ifsc, v) }

func (p *Profile) set(field *string, v string) error {
	if p.readOnly {
		return apperrors.ErrReadOnly
	}
	if *field != v {
		*field = v
		p.dirty = true
	}
	return nil
}

// AddPhoto stores a captured base64 image, optionally a data URI, in slot.
func (p *Profile) AddPhoto(slot models.PhotoSlot, base64 string) error {
	if p.readOnly {
		return apperrors.ErrReadOnly
	}
	if _, err := models.ParsePhotoSlot(string(slot)); err != nil {
		return err
	}
	if cur := p.photos[slot]; cur != nil && !cur.IsPlaceholder() && cur.Base64() == base64 {
		return nil
	}
	p.photos[slot] = models.NewPhoto(base64)
	p.dirty = true
	return nil
}

// PhotosComplete is true when every document slot is filled.
func (p *Profile) PhotosComplete() bool {
	return p.photos.Complete()
}

// IdentityComplete is true when name, mobile, PAN and address are present.
func (p *Profile) IdentityComplete() bool {
	return p.fullName != "" && p.mobile != "" && p.pancard != "" && p.address.Complete()
}

// BankInfoComplete is true when the refund account is known.
func (p *Profile) BankInfoComplete() bool {
	return p.bankAccountNumber != "" && p.ifsc != ""
}

// Complete reports whether the profile can be submitted. A profile past
// level 1 has already been reviewed and is always complete.
func (p *Profile) Complete() bool {
	if p.level > LevelNew {
		return true
	}
	return p.PhotosComplete() && p.IdentityComplete() && p.BankInfoComplete()
}

// Verify submits the profile for review. On any failure the profile is
// left exactly as it was so the caller can correct and retry.
func (p *Profile) Verify(ctx context.Context) error {
	if p.level >= LevelSubmitted {
		return apperrors.Wrapf(apperrors.ErrAlreadySubmitted, "level %d", p.level)
	}
	if p.readOnly {
		return apperrors.ErrReadOnly
	}
	if !p.Complete() {
		return apperrors.ErrProfileIncomplete
	}

	raw, err := p.api.AuthPOST(ctx, endpointVerify, p.verifyPayload(), nil)
	if err != nil {
		return err
	}
	if err := checkStatus(raw); err != nil {
		p.logger.Error().Err(err).Msg("Profile verification rejected")
		return err
	}

	p.dirty = false
	p.address.DidSave()
	p.level = LevelSubmitted
	p.kycStatus = KYCPending
	p.readOnly = true
	p.address.Lock()
	p.logger.Info().Msg("Profile submitted for verification")
	return nil
}

func (p *Profile) verifyPayload() map[string]any {
	payload := map[string]any{
		"name":                p.fullName,
		"phone_number":        p.mobile,
		"address":             p.address.Street(),
		"city":                p.address.City(),
		"state":               p.address.State(),
		"pincode":             p.address.Zipcode(),
		"country":             p.address.Country(),
		"pancard_number":      p.pancard,
		"bank_account_number": p.bankAccountNumber,
		"ifsc_code":           p.ifsc,
	}
	for _, slot := range models.PhotoSlots {
		photo := p.photos[slot]
		if photo == nil || photo.IsPlaceholder() {
			continue
		}
		payload[photoField(slot)] = photo.Payload()
	}
	return payload
}

func photoField(slot models.PhotoSlot) string {
	switch slot {
	case models.PhotoPancard:
		return "pancard_photo"
	case models.PhotoAddress:
		return "address_proof"
	}
	return "photo"
}
