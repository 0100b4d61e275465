package models

// BankAccount is the INR account registered with the exchange profile.
type BankAccount struct {
	Type       string
	Currency   Currency
	IFSC       string
	Number     string
	BankName   string
	HolderName string
}

// Complete is true when the account can receive a bank transfer refund.
func (b BankAccount) Complete() bool {
	return b.Number != "" && b.IFSC != ""
}
