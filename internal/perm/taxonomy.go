package perm

// Section is one administrative area of the console. A section either owns
// subsections (grants are held per subsection) or none (grants are held
// directly on the section).
type Section struct {
	Name        string
	Subsections []string
}

// HasSubsections reports whether grants on this section live on subsections.
func (s Section) HasSubsections() bool {
	return len(s.Subsections) > 0
}

// DeclaresSubsection reports whether name is one of the section's declared
// subsections.
func (s Section) DeclaresSubsection(name string) bool {
	for _, sub := range s.Subsections {
		if sub == name {
			return true
		}
	}
	return false
}

// Section names. The taxonomy is closed: permissions can only be granted on
// areas declared here.
const (
	SectionClientList    = "Client List"
	SectionBilling       = "Billing"
	SectionUsers         = "Users"
	SectionThemes        = "Themes"
	SectionDeveloper     = "Developer"
	SectionSupport       = "Support"
	SectionNotifications = "Notifications"
)

// Subsection names.
const (
	SubsectionThemeDeveloper = "Theme Developer"
	SubsectionAPIConsole     = "API Console"
	SubsectionTicket         = "Ticket"
	SubsectionDomain         = "Domain"
	SubsectionLiveChat       = "Live Chat"
)

var taxonomy = []Section{
	{Name: SectionClientList},
	{Name: SectionBilling},
	{Name: SectionUsers},
	{Name: SectionThemes},
	{Name: SectionDeveloper, Subsections: []string{SubsectionThemeDeveloper, SubsectionAPIConsole}},
	{Name: SectionSupport, Subsections: []string{SubsectionTicket, SubsectionDomain, SubsectionLiveChat}},
	{Name: SectionNotifications},
}

// Taxonomy returns every declared section in display order.
func Taxonomy() []Section {
	return taxonomy
}

// SectionByName looks up a declared section.
func SectionByName(name string) (Section, bool) {
	for _, s := range taxonomy {
		if s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}

// Declares reports whether the (section, subsection) pair is part of the
// taxonomy. An empty subsection addresses the section itself.
func Declares(section, subsection string) bool {
	s, ok := SectionByName(section)
	if !ok {
		return false
	}
	if subsection == "" {
		return true
	}
	return s.DeclaresSubsection(subsection)
}
