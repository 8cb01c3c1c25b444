// Package auth provides password hashing for users and protected rooms.
package auth

import "golang.org/x/crypto/bcrypt"

// BcryptCost balances hashing time against brute-force resistance.
const BcryptCost = 12

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// VerifyPassword reports whether password matches hash. Room joins do not
// call this; the check is only applied where a surface opts in.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
