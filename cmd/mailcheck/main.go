// Command mailcheck sends a sample verification code to check the mail setup.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"postdeck/utils"
)

func main() {
	to := flag.String("to", "", "recipient address")
	flag.Parse()

	cfg := utils.LoadConfig()
	log.Println("environment: ", cfg.Env)

	if err := utils.ValidateEmail(*to); err != nil {
		log.Fatalf("invalid recipient: %v", err)
	}

	var mailer utils.Mailer = utils.LogMailer{}
	if cfg.SendGridAPIKey != "" {
		mailer = utils.NewSendGridMailer(cfg.SendGridAPIKey, cfg.MailFrom)
	} else {
		log.Println("SENDGRID_API_KEY not set, logging mail instead")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := utils.SendOTP(ctx, mailer, *to, utils.GenerateOTP(), utils.OTPVerify); err != nil {
		log.Fatalf("sending mail: %v", err)
	}
	log.Println("succes")
}
