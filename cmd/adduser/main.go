// Package main prints an auth.users entry with a bcrypt password hash, ready
// to paste into a server configuration file.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/thinhdabezt/hexbound-vtt/internal/auth"
)

type userEntry struct {
	Username     string   `yaml:"username"`
	PasswordHash string   `yaml:"password_hash"`
	Role         string   `yaml:"role"`
	Tokens       []string `yaml:"tokens,omitempty"`
}

func main() {
	username := flag.String("username", "", "account username (required)")
	role := flag.String("role", auth.RolePlayer, "role to assign: player or moderator")
	tokens := flag.String("tokens", "", "comma-separated token ids the account controls")
	flag.Parse()

	if *username == "" {
		flag.Usage()
		os.Exit(1)
	}
	if !auth.ValidRole(*role) {
		log.Fatalf("invalid role %q: must be player or moderator", *role)
	}

	fmt.Fprint(os.Stderr, "password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		log.Fatalf("reading password: %v", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		log.Fatal("password must not be empty")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("hashing password: %v", err)
	}

	entry := userEntry{Username: *username, PasswordHash: hash, Role: *role}
	for _, t := range strings.Split(*tokens, ",") {
		if t = strings.TrimSpace(t); t != "" {
			entry.Tokens = append(entry.Tokens, t)
		}
	}

	out, err := yaml.Marshal([]userEntry{entry})
	if err != nil {
		log.Fatalf("encoding entry: %v", err)
	}
	os.Stdout.Write(out)
}
