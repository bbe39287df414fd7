// Package telegram adapts the Telegram Bot API to the interfaces the
// core services consume.
package telegram

import (
	"encoding/json"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Client struct {
	bot          *tgbotapi.BotAPI
	paymentToken string
}

func NewClient(botToken, paymentToken string) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &Client{bot: bot, paymentToken: paymentToken}, nil
}

func (c *Client) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("send message to %d: %w", chatID, err)
	}
	return nil
}

// CreateInviteLink creates a named, time-boxed invite link with a join
// limit. memberLimit 1 yields the single-use links the bot hands out.
func (c *Client) CreateInviteLink(chatID int64, name string, expireAt time.Time, memberLimit int) (string, error) {
	cfg := tgbotapi.CreateChatInviteLinkConfig{
		ChatConfig:  tgbotapi.ChatConfig{ChatID: chatID},
		Name:        name,
		ExpireDate:  int(expireAt.Unix()),
		MemberLimit: memberLimit,
	}
	resp, err := c.bot.Request(cfg)
	if err != nil {
		return "", fmt.Errorf("create invite link: %w", err)
	}

	var link tgbotapi.ChatInviteLink
	if err := json.Unmarshal(resp.Result, &link); err != nil {
		return "", fmt.Errorf("decode invite link response: %w", err)
	}
	if link.InviteLink == "" {
		return "", fmt.Errorf("create invite link: empty link in response")
	}
	return link.InviteLink, nil
}

func (c *Client) BanChatMember(chatID, userID int64) error {
	cfg := tgbotapi.BanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
	}
	if _, err := c.bot.Request(cfg); err != nil {
		return fmt.Errorf("ban member %d: %w", userID, err)
	}
	return nil
}

func (c *Client) UnbanChatMember(chatID, userID int64) error {
	cfg := tgbotapi.UnbanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
	}
	if _, err := c.bot.Request(cfg); err != nil {
		return fmt.Errorf("unban member %d: %w", userID, err)
	}
	return nil
}

func (c *Client) SendInvoice(chatID int64, title, description, payload, currency string, amount int64) error {
	prices := []tgbotapi.LabeledPrice{{Label: title, Amount: int(amount)}}
	invoice := tgbotapi.NewInvoice(chatID, title, description, payload,
		c.paymentToken, payload, currency, prices)
	if _, err := c.bot.Send(invoice); err != nil {
		return fmt.Errorf("send invoice to %d: %w", chatID, err)
	}
	return nil
}
