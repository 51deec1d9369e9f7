package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/ManuelReschke/GhostRelay/app/repository"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/database"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/env"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/onboarding"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/security"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/telegram"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	if os.Args[1] == "keygen" {
		sealer, identity, err := security.GenerateAgeSealer()
		if err != nil {
			log.Fatalf("Failed to generate identity: %v", err)
		}
		fmt.Printf("CREDENTIAL_AGE_IDENTITY=%s\n", identity)
		fmt.Printf("# recipient: %s\n", sealer.Recipient())
		return
	}

	env.SetupEnvFile()
	database.SetupDatabase()
	repository.InitializeFactory(database.GetDB())

	sealer, err := security.NewAgeSealer(env.GetEnv("CREDENTIAL_AGE_IDENTITY", ""))
	if err != nil {
		log.Fatalf("Credential identity: %v", err)
	}
	svc := onboarding.NewService(
		repository.GetGlobalRepositories(),
		sealer,
		env.GetEnv("CREDENTIAL_PEPPER", ""),
		env.GetInt("TRIAL_DAYS", onboarding.DefaultTrialDays),
	)
	svc.Provider = telegram.NewHTTPProvider(env.GetEnv("TELEGRAM_BASE_URL", telegram.DefaultBaseURL), time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	args := os.Args[2:]
	switch os.Args[1] {
	case "register":
		need(args, 3)
		bot, err := svc.Register(ctx, uint(parseUint(args[0])), parseInt(args[1]), args[2])
		if err != nil {
			log.Fatalf("Registration failed: %v", err)
		}
		fmt.Printf("Registered bot %d (%s), status %s, trial until %s\n",
			bot.ID, bot.DisplayName(), bot.Status, bot.TrialExpiresAt.Format(time.RFC3339))

	case "approve":
		need(args, 2)
		bot, err := svc.Approve(ctx, uint(parseUint(args[0])), parseInt(args[1]))
		if err != nil {
			log.Fatalf("Approval failed: %v", err)
		}
		fmt.Printf("Bot %d is %s\n", bot.ID, bot.Status)

	case "pay":
		need(args, 3)
		days, err := strconv.Atoi(args[2])
		if err != nil {
			log.Fatalf("Invalid days: %v", err)
		}
		proof := onboarding.PaymentProof{Plan: args[1], Days: days}
		if len(args) > 3 {
			proof.Amount, _ = strconv.ParseFloat(args[3], 64)
		}
		if len(args) > 4 {
			proof.PaymentMethod = args[4]
		}
		if len(args) > 5 {
			proof.TransactionID = args[5]
		}
		sub, err := svc.SubmitPayment(ctx, uint(parseUint(args[0])), proof)
		if err != nil {
			log.Fatalf("Payment submission failed: %v", err)
		}
		fmt.Printf("Subscription %d pending, %s to %s\n", sub.ID, sub.StartsAt.Format(time.RFC3339), sub.EndsAt.Format(time.RFC3339))

	case "verify":
		need(args, 2)
		bot, err := svc.VerifyPayment(ctx, uint(parseUint(args[0])), parseInt(args[1]))
		if err != nil {
			log.Fatalf("Verification failed: %v", err)
		}
		fmt.Printf("Bot %d is %s, plan %s\n", bot.ID, bot.Status, bot.Plan)

	case "reject":
		need(args, 1)
		note := ""
		if len(args) > 1 {
			note = args[1]
		}
		sub, err := svc.RejectPayment(ctx, uint(parseUint(args[0])), note)
		if err != nil {
			log.Fatalf("Rejection failed: %v", err)
		}
		fmt.Printf("Subscription %d rejected\n", sub.ID)

	case "pending":
		subs, err := svc.PendingPayments(ctx, 50)
		if err != nil {
			log.Fatalf("Listing pending payments failed: %v", err)
		}
		for _, s := range subs {
			fmt.Printf("%d\tbot %d\t%s\t%.2f\t%s\t%s\n", s.ID, s.TenantBotID, s.Plan, s.Amount, s.PaymentMethod, s.TransactionID)
		}

	default:
		printUsage()
		os.Exit(1)
	}
}

func need(args []string, n int) {
	if len(args) < n {
		printUsage()
		os.Exit(1)
	}
}

func parseUint(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		log.Fatalf("Invalid id %q: %v", s, err)
	}
	return v
}

func parseInt(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		log.Fatalf("Invalid number %q: %v", s, err)
	}
	return v
}

func printUsage() {
	fmt.Println("Usage: go run cmd/botctl/main.go [command]")
	fmt.Println("Commands:")
	fmt.Println("  keygen                                   - generate a credential identity")
	fmt.Println("  register OWNER_ID ADMIN_CHAT_ID TOKEN    - register a bot credential")
	fmt.Println("  approve BOT_ID APPROVER_ID               - approve a pending bot")
	fmt.Println("  pay BOT_ID PLAN DAYS [AMOUNT METHOD TX]  - record a payment proof")
	fmt.Println("  verify SUBSCRIPTION_ID VERIFIER_ID       - verify a payment proof")
	fmt.Println("  reject SUBSCRIPTION_ID [NOTE]            - reject a payment proof")
	fmt.Println("  pending                                  - list payments awaiting review")
}
