package model

import "time"

// Partner holds the recipient fields of a hotel partner plus the cached
// gateway identities created for its bank account.
type Partner struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	BeneficiaryName   string    `json:"beneficiaryName,omitempty"`
	Email             string    `json:"email,omitempty"`
	Phone             string    `json:"phone,omitempty"`
	BankAccountNumber string    `json:"bankAccountNumber,omitempty"`
	BankRoutingCode   string    `json:"bankRoutingCode,omitempty"`
	ContactID         string    `json:"contactId,omitempty"`
	FundAccountID     string    `json:"fundAccountId,omitempty"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// HasBankDetails reports whether raw account number and routing code are present.
func (p *Partner) HasBankDetails() bool {
	return p.BankAccountNumber != "" && p.BankRoutingCode != ""
}

// BeneficiaryDisplayName is the name registered with the gateway.
func (p *Partner) BeneficiaryDisplayName() string {
	switch {
	case p.BeneficiaryName != "":
		return p.BeneficiaryName
	case p.Name != "":
		return p.Name
	default:
		return "Beneficiary"
	}
}
