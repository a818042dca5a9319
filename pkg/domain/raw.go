package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// FlexID is an identifier that upstream endpoints serialize as either a
// JSON string or a JSON number.
type FlexID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

// FlexInt is an integer that upstream endpoints serialize as a JSON
// number, a numeric string, or null. Zero means absent.
type FlexInt int64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			// Non-numeric string ids are dropped rather than failing the
			// whole record.
			*f = 0
			return nil
		}
		*f = FlexInt(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexInt(n)
	return nil
}

// RawFirm is the firm object as it appears nested in raw payloads.
type RawFirm struct {
	ID          FlexInt `json:"id"`
	Name        string  `json:"name"`
	CompanyName string  `json:"company_name"`
}

// RawOffice is an office entry in raw payloads.
type RawOffice struct {
	ID FlexInt `json:"id"`
}

// RawMembershipDetails is the nested membership object some endpoints wrap
// role and status in.
type RawMembershipDetails struct {
	ID     FlexID `json:"id"`
	Role   string `json:"role"`
	Status string `json:"status"`
}

// RawMembership is the tagged parser for the duck-typed membership records
// the upstream endpoints return. Each field the record may carry, under any
// of its known spellings, has an explicit slot; the Extract methods are
// total and order-independent so call sites never chain optional access.
type RawMembership struct {
	ID           FlexID                `json:"id"`
	MembershipID FlexID                `json:"membership_id"`
	Role         string                `json:"role"`
	Status       string                `json:"status"`
	IsCurrent    bool                  `json:"is_current"`
	Membership   *RawMembershipDetails `json:"membership"`
	FirmID       FlexInt               `json:"firm_id"`
	FirmIDCamel  FlexInt               `json:"firmId"`
	CompanyID    FlexInt               `json:"company_id"`
	FirmName     string                `json:"firm_name"`
	CompanyName  string                `json:"company_name"`
	Firm         *RawFirm              `json:"firm"`
	Company      *RawFirm              `json:"company"`
	OfficeIDs    []FlexInt             `json:"office_ids"`
	Offices      []RawOffice           `json:"offices"`

	// Payload is the original record, kept for diagnostics.
	Payload json.RawMessage `json:"-"`
}

// UnmarshalJSON implements json.Unmarshaler, retaining the original bytes.
func (r *RawMembership) UnmarshalJSON(data []byte) error {
	type plain RawMembership
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = RawMembership(p)
	r.Payload = append([]byte(nil), data...)
	return nil
}

// ExtractID returns the membership identifier, whichever field carries it.
func (r *RawMembership) ExtractID() string {
	if r.ID != "" {
		return string(r.ID)
	}
	if r.MembershipID != "" {
		return string(r.MembershipID)
	}
	if r.Membership != nil && r.Membership.ID != "" {
		return string(r.Membership.ID)
	}
	return ""
}

// ExtractRole returns the raw role string. The nested membership object
// wins over the flat field; an absent role means team_member.
func (r *RawMembership) ExtractRole() string {
	if r.Membership != nil && r.Membership.Role != "" {
		return r.Membership.Role
	}
	if r.Role != "" {
		return r.Role
	}
	return RoleTeamMember
}

// ExtractStatus returns the membership status, defaulting to active.
func (r *RawMembership) ExtractStatus() MembershipStatus {
	status := r.Status
	if status == "" && r.Membership != nil {
		status = r.Membership.Status
	}
	status = strings.ToLower(strings.TrimSpace(status))
	if status == "" {
		return MembershipStatusActive
	}
	return MembershipStatus(status)
}

// ExtractFirmID returns the firm id coerced to an integer from whichever
// source field carries it, and whether one was found.
func (r *RawMembership) ExtractFirmID() (int64, bool) {
	for _, id := range []FlexInt{r.FirmID, r.FirmIDCamel, firmField(r.Firm), firmField(r.Company), r.CompanyID} {
		if id != 0 {
			return int64(id), true
		}
	}
	return 0, false
}

func firmField(f *RawFirm) FlexInt {
	if f == nil {
		return 0
	}
	return f.ID
}

// ExtractFirmName returns the firm display name, whichever field carries it.
func (r *RawMembership) ExtractFirmName() string {
	if r.Firm != nil {
		if r.Firm.Name != "" {
			return r.Firm.Name
		}
		if r.Firm.CompanyName != "" {
			return r.Firm.CompanyName
		}
	}
	if r.FirmName != "" {
		return r.FirmName
	}
	if r.Company != nil && r.Company.Name != "" {
		return r.Company.Name
	}
	return r.CompanyName
}

// ExtractOfficeScope returns the office identifiers the membership is
// scoped to, from either the flat id list or the office objects.
func (r *RawMembership) ExtractOfficeScope() []int64 {
	if len(r.OfficeIDs) > 0 {
		scope := make([]int64, 0, len(r.OfficeIDs))
		for _, id := range r.OfficeIDs {
			if id != 0 {
				scope = append(scope, int64(id))
			}
		}
		return scope
	}
	if len(r.Offices) > 0 {
		scope := make([]int64, 0, len(r.Offices))
		for _, office := range r.Offices {
			if office.ID != 0 {
				scope = append(scope, int64(office.ID))
			}
		}
		return scope
	}
	return nil
}
