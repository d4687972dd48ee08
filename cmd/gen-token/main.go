package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"taskforge-board/api"
)

func main() {
	var (
		role     = flag.String("role", "member", "role claim: admin, manager, member or viewer")
		projects = flag.String("projects", "", "comma separated project ids the token is limited to")
		ttl      = flag.Duration("ttl", time.Hour, "token lifetime")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatal("usage: gen-token [-role r] [-projects p1,p2] [-ttl 1h] <user-id>")
	}
	r, err := api.ParseRole(*role)
	if err != nil {
		log.Fatal(err)
	}
	p := api.Principal{UserID: flag.Arg(0), Role: r}
	if *projects != "" {
		p.Projects = strings.Split(*projects, ",")
	}

	tok, err := api.TestToken([]byte(os.Getenv("TEST_JWT_SECRET")), p, *ttl)
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}
	fmt.Print(tok)
}
