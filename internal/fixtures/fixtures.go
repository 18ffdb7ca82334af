// Package fixtures reads YAML seed files describing users and their
// transaction histories.
//
// Example file:
//
//	users:
//	  - email: jane@example.com
//	    firstName: Jane
//	    lastName: Doe
//	    transactions:
//	      - {name: Acme Corp, date: "2024-01-01", amount: 1000}
//	      - {name: Acme Corp, date: "2024-02-01", amount: 1000}
package fixtures

import (
	"fmt"
	"os"
	"strings"

	"github.com/boddenberg/recurring-income-bfa/internal/domain"

	"gopkg.in/yaml.v3"
)

// File is the root of a fixture document.
type File struct {
	Users []UserFixture `yaml:"users"`
}

// UserFixture is one user with the transactions to store for them.
type UserFixture struct {
	Email        string               `yaml:"email"`
	FirstName    string               `yaml:"firstName"`
	LastName     string               `yaml:"lastName"`
	Transactions []TransactionFixture `yaml:"transactions"`
}

// TransactionFixture is a raw transaction. Date stays a string so the
// detector sees exactly what was written.
type TransactionFixture struct {
	Name   string  `yaml:"name"`
	Date   string  `yaml:"date"`
	Amount float64 `yaml:"amount"`
}

// Load reads and parses a fixture file. Environment variables in the file
// are expanded before parsing.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes a fixture document and checks that every user has an email
// and every transaction a name and date.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}

	seen := make(map[string]bool, len(f.Users))
	for i, u := range f.Users {
		email := strings.TrimSpace(u.Email)
		if email == "" {
			return nil, &domain.ErrValidation{Field: fmt.Sprintf("users[%d].email", i), Message: "is required"}
		}
		if seen[email] {
			return nil, &domain.ErrValidation{Field: fmt.Sprintf("users[%d].email", i), Message: "duplicate " + email}
		}
		seen[email] = true
		f.Users[i].Email = email

		for j, tx := range u.Transactions {
			if tx.Name == "" || tx.Date == "" {
				return nil, &domain.ErrValidation{
					Field:   fmt.Sprintf("users[%d].transactions[%d]", i, j),
					Message: "name and date are required",
				}
			}
		}
	}
	return &f, nil
}

// User converts the fixture to a directory entry.
func (u UserFixture) User() domain.User {
	return domain.User{Email: u.Email, FirstName: u.FirstName, LastName: u.LastName}
}

// DomainTransactions converts the fixture transactions, stamping the owner's email.
func (u UserFixture) DomainTransactions() []domain.Transaction {
	out := make([]domain.Transaction, len(u.Transactions))
	for i, tx := range u.Transactions {
		out[i] = domain.Transaction{Email: u.Email, Name: tx.Name, Date: tx.Date, Amount: tx.Amount}
	}
	return out
}
