package schema

// User class names and fields.
const (
	UserClassName     = "_User"
	FieldUsername     = "username"
	FieldPassword     = "password"
	FieldEmail        = "email"
	FieldSessionToken = "sessionToken"
)

// UserModel builds the user model: username, password (write-only) and email
// plus any extra fields. Username presence is always required; password is
// only required on signup, which the orm layer checks.
func UserModel(extra []Field, rules ...Rule) (*Model, error) {
	fields := []Field{
		{Name: FieldUsername, Type: TypeString},
		{Name: FieldPassword, Type: TypeString},
		{Name: FieldEmail, Type: TypeString},
	}
	fields = append(fields, extra...)

	all := []Rule{
		Presence{FieldName: FieldUsername},
	}
	all = append(all, rules...)

	return NewModel(UserClassName, fields, all...)
}
