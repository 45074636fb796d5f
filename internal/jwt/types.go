package jwt

type Role int

type User struct {
	Id    string `json:"id"`
	Email string `json:"email"`
}
