// ABOUTME: The four fixed conversational personas and their display metadata.
// ABOUTME: Each persona owns exactly one conversation with the agent backend.

package conversation

// Persona is one of the four fixed conversational roles. Each persona holds
// its own server-assigned session.
type Persona string

const (
	Financier  Persona = "financier"
	Lawyer     Persona = "lawyer"
	Marketer   Persona = "marketer"
	Accountant Persona = "accountant"
)

// Personas returns all personas in their canonical order.
func Personas() []Persona {
	return []Persona{Financier, Lawyer, Marketer, Accountant}
}

// Valid reports whether p is one of the four known personas.
func (p Persona) Valid() bool {
	switch p {
	case Financier, Lawyer, Marketer, Accountant:
		return true
	}
	return false
}

// Title returns the user-facing persona name.
func (p Persona) Title() string {
	switch p {
	case Financier:
		return "ИИ Финансист"
	case Lawyer:
		return "ИИ Юрист"
	case Marketer:
		return "ИИ Маркетолог"
	case Accountant:
		return "ИИ Бухгалтер"
	}
	return "ИИ Агент"
}
