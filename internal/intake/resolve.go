package intake

import (
	"context"
	"fmt"
	"strings"

	"github.com/DanishBukhari/servicem8-ghl-integ/internal/matching"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/servicem8"
	"go.uber.org/zap"
)

// DefaultMobilePrefixes route Australian mobile numbers to the mobile field.
var DefaultMobilePrefixes = []string{"04", "+614", "614"}

// person is the customer an inbound request is about.
type person struct {
	First string
	Last  string
	Email string
	Phone string
}

func (p person) fullName() string {
	return matching.FullName(p.First, p.Last)
}

// RoutePhone places number in the mobile field when it starts with one of the
// mobile prefixes and in the phone field otherwise. The other field is empty.
func RoutePhone(number string, mobilePrefixes []string) (phone, mobile string) {
	number = strings.TrimSpace(number)
	compact := strings.ReplaceAll(number, " ", "")
	for _, prefix := range mobilePrefixes {
		if prefix != "" && strings.HasPrefix(compact, prefix) {
			return "", number
		}
	}
	return number, ""
}

type resolver struct {
	fsm            FSM
	matcher        matching.Matcher
	mobilePrefixes []string
}

// companyFor finds the company whose email or name matches the person,
// creating one named after them when none does.
func (r resolver) companyFor(ctx context.Context, logger *zap.Logger, who person) (string, error) {
	companies, err := r.fsm.ListCompanies(ctx)
	if err != nil {
		return "", fmt.Errorf("list companies: %w", err)
	}
	candidates := make([]matching.Candidate, 0, len(companies))
	for _, company := range companies {
		candidates = append(candidates, matching.Candidate{ID: company.UUID, Name: company.Name, Email: company.Email})
	}
	probe := matching.Probe{Name: who.fullName(), Email: who.Email}
	if match, ok := r.matcher.Match(probe, candidates); ok {
		logger.Info("servicem8 company matched", zap.String("company_uuid", match.ID))
		return match.ID, nil
	}

	name := who.fullName()
	if name == "" {
		name = strings.TrimSpace(who.Email)
	}
	companyUUID, err := r.fsm.CreateCompany(ctx, servicem8.Company{Name: name})
	if err != nil {
		return "", fmt.Errorf("create company: %w", err)
	}
	logger.Info("servicem8 company created", zap.String("company_uuid", companyUUID))
	return companyUUID, nil
}

// contactFor ensures the company has a contact for the person.
func (r resolver) contactFor(ctx context.Context, logger *zap.Logger, companyUUID string, who person) (string, error) {
	contacts, err := r.fsm.ListCompanyContacts(ctx, companyUUID)
	if err != nil {
		return "", fmt.Errorf("list company contacts: %w", err)
	}
	candidates := make([]matching.Candidate, 0, len(contacts))
	for _, contact := range contacts {
		candidates = append(candidates, matching.Candidate{ID: contact.UUID, Name: contact.FullName(), Email: contact.Email})
	}
	if match, ok := r.matcher.Match(matching.Probe{Name: who.fullName(), Email: who.Email}, candidates); ok {
		logger.Info("servicem8 contact matched", zap.String("contact_uuid", match.ID))
		return match.ID, nil
	}

	contact := servicem8.CompanyContact{
		CompanyUUID: companyUUID,
		First:       strings.TrimSpace(who.First),
		Last:        strings.TrimSpace(who.Last),
		Email:       strings.TrimSpace(who.Email),
	}
	contact.Phone, contact.Mobile = RoutePhone(who.Phone, r.mobilePrefixes)
	contactUUID, err := r.fsm.CreateCompanyContact(ctx, contact)
	if err != nil {
		return "", fmt.Errorf("create company contact: %w", err)
	}
	logger.Info("servicem8 contact created", zap.String("contact_uuid", contactUUID))
	return contactUUID, nil
}
