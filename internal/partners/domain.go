// Package partners reads the partner organisations and their employee rosters.
package partners

// Partner is a client organisation whose employees receive salary advances.
type Partner struct {
	ID     string
	Name   string
	Email  string
	Phone  string
	Active bool
}

// Employee belongs to exactly one partner.
type Employee struct {
	ID        string
	PartnerID string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Active    bool
}

// FullName joins the employee's names.
func (e Employee) FullName() string {
	switch {
	case e.FirstName == "":
		return e.LastName
	case e.LastName == "":
		return e.FirstName
	default:
		return e.FirstName + " " + e.LastName
	}
}
