package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OperatorClaims mirrors the claims the operator API middleware validates
type OperatorClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func main() {
	username := flag.String("username", "operator", "operator username")
	role := flag.String("role", "operator", "token role (operator or admin)")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("ADMIN_JWT_SECRET")
	if secret == "" {
		log.Fatal("ADMIN_JWT_SECRET must be set")
	}

	now := time.Now()
	claims := OperatorClaims{
		Username: *username,
		Role:     *role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(*ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "anypay-backend",
			Subject:   *username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		log.Fatalf("Error generating token: %v", err)
	}

	fmt.Println("============================================================")
	fmt.Println("Operator Token Generated")
	fmt.Println("============================================================")
	fmt.Println()
	fmt.Println(tokenString)
	fmt.Println()
	fmt.Printf("  Username: %s\n", *username)
	fmt.Printf("  Role:     %s\n", *role)
	fmt.Printf("  Expires:  %s\n", claims.ExpiresAt.Time)
	fmt.Println()
	fmt.Printf("curl -H 'Authorization: Bearer %s' http://localhost:8080/api/relayer/deposits\n", tokenString)
}
