package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	qrcode "github.com/skip2/go-qrcode"

	"xsell/database/model"
	"xsell/logger"
	"xsell/util/common"
)

var (
	bot       *telego.Bot
	isRunning bool
)

// Tgbot is the outbound notification channel. It only sends: command
// handling, menus and payment collection live in the bot collaborator,
// not here. Every send is best-effort; failures are logged and never
// retried, and nothing here blocks provisioning.
type Tgbot struct{}

func (t *Tgbot) Start(token string) error {
	if token == "" {
		return common.NewError("telegram token is empty")
	}

	var err error
	bot, err = telego.NewBot(token)
	if err != nil {
		return err
	}

	isRunning = true
	logger.Info("telegram notifier started")
	return nil
}

func (t *Tgbot) Stop() {
	isRunning = false
	bot = nil
}

func (t *Tgbot) IsRunning() bool {
	return isRunning
}

// NotifyProvisioned tells the user their subscription is ready and
// attaches a QR code of the subscription URL.
func (t *Tgbot) NotifyProvisioned(account *model.ClientAccount) {
	if !isRunning || account.UserId == 0 {
		return
	}

	var expiry string
	if account.ExpiresAt > 0 {
		expiry = time.UnixMilli(account.ExpiresAt).UTC().Format("2006-01-02 15:04 MST")
	} else {
		expiry = "never"
	}

	msg := fmt.Sprintf("✅ Your VPN access is ready!\r\n \r\nQuota: %s\r\nExpires: %s\r\n \r\nSubscription link:\r\n%s",
		common.FormatTraffic(account.QuotaBytes), expiry, account.SubURL)
	t.SendMsgToUser(account.UserId, msg)

	png, err := qrcode.Encode(account.SubURL, qrcode.Medium, 256)
	if err != nil {
		logger.Debug("failed to render subscription QR code:", err)
		return
	}

	params := telego.SendPhotoParams{
		ChatID:  tu.ID(account.UserId),
		Photo:   tu.File(tu.NameReader(bytes.NewReader(png), "subscription.png")),
		Caption: "Scan to import your subscription",
	}
	if _, err := bot.SendPhoto(context.Background(), &params); err != nil {
		logger.Warning("Error sending subscription QR:", err)
	}
}

// NotifyFailed tells the user provisioning did not work out. The stored
// error stays internal; users get a generic message.
func (t *Tgbot) NotifyFailed(userId int64) {
	if !isRunning || userId == 0 {
		return
	}
	t.SendMsgToUser(userId, "❌ Provisioning failed, please contact support.")
}

// NotifyRevoked tells the user their account was closed and why.
func (t *Tgbot) NotifyRevoked(account *model.ClientAccount, reason string) {
	if !isRunning || account.UserId == 0 {
		return
	}
	t.SendMsgToUser(account.UserId, fmt.Sprintf("⚠️ Your VPN access ended: %s", reason))
}

// SendMsgToUser delivers one message, splitting it when it exceeds the
// Telegram size limit.
func (t *Tgbot) SendMsgToUser(chatId int64, msg string) {
	if !isRunning {
		return
	}
	if msg == "" {
		logger.Info("[tgbot] message is empty!")
		return
	}

	var allMessages []string
	limit := 2000

	if len(msg) > limit {
		messages := strings.Split(msg, "\r\n \r\n")
		lastIndex := -1

		for _, message := range messages {
			if (len(allMessages) == 0) || (len(allMessages[lastIndex])+len(message) > limit) {
				allMessages = append(allMessages, message)
				lastIndex++
			} else {
				allMessages[lastIndex] += "\r\n \r\n" + message
			}
		}
	} else {
		allMessages = append(allMessages, msg)
	}

	for _, message := range allMessages {
		params := telego.SendMessageParams{
			ChatID: tu.ID(chatId),
			Text:   message,
		}
		if _, err := bot.SendMessage(context.Background(), &params); err != nil {
			logger.Warning("Error sending telegram message:", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}
