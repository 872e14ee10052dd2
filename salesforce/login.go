package salesforce

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"

	"github.com/ben-leadtech/etlkit/credentials"
)

const soapLoginBody = `<?xml version="1.0" encoding="utf-8"?>
<env:Envelope xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:env="http://schemas.xmlsoap.org/soap/envelope/" xmlns:urn="urn:partner.soap.sforce.com">
  <env:Body>
    <urn:login>
      <urn:username>%s</urn:username>
      <urn:password>%s%s</urn:password>
    </urn:login>
  </env:Body>
</env:Envelope>`

type soapLoginResponse struct {
	Result struct {
		ServerURL string `xml:"serverUrl"`
		SessionID string `xml:"sessionId"`
	} `xml:"Body>loginResponse>result"`
	Fault struct {
		Code   string `xml:"faultcode"`
		String string `xml:"faultstring"`
	} `xml:"Body>Fault"`
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// soapLogin authenticates with the partner SOAP API. The instance URL is the
// scheme and host of the returned server URL.
func (c *Client) soapLogin(ctx context.Context, loginURL string, creds credentials.Salesforce) (*oauth2.Token, string, error) {
	body := fmt.Sprintf(soapLoginBody,
		xmlEscape(creds.Username), xmlEscape(creds.Password), xmlEscape(creds.SecurityToken))

	endpoint := fmt.Sprintf("%s/services/Soap/u/%s", loginURL, c.apiVersion)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, []byte(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "text/xml; charset=UTF-8")
	req.Header.Set("SOAPAction", "login")

	resp, err := c.once.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrLogin, err)
	}
	defer resp.Body.Close()

	var out soapLoginResponse
	if err := xml.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, "", fmt.Errorf("%w: HTTP %d: decode response: %w", ErrLogin, resp.StatusCode, err)
	}
	if out.Fault.String != "" {
		return nil, "", fmt.Errorf("%w: %s", ErrLogin, strings.TrimSpace(out.Fault.String))
	}
	if out.Result.SessionID == "" || out.Result.ServerURL == "" {
		return nil, "", fmt.Errorf("%w: HTTP %d: no session in response", ErrLogin, resp.StatusCode)
	}

	server, err := url.Parse(out.Result.ServerURL)
	if err != nil {
		return nil, "", fmt.Errorf("%w: server url: %w", ErrLogin, err)
	}

	tok := &oauth2.Token{AccessToken: out.Result.SessionID, TokenType: "Bearer"}
	return tok, server.Scheme + "://" + server.Host, nil
}

// oauthLogin uses the OAuth2 username-password flow of a connected app.
func (c *Client) oauthLogin(ctx context.Context, loginURL string, creds credentials.Salesforce) (*oauth2.Token, string, error) {
	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  loginURL + "/services/oauth2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.once.StandardClient())
	tok, err := conf.PasswordCredentialsToken(ctx, creds.Username, creds.Password+creds.SecurityToken)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrLogin, err)
	}

	instance, _ := tok.Extra("instance_url").(string)
	if instance == "" {
		return nil, "", fmt.Errorf("%w: token response has no instance_url", ErrLogin)
	}
	return tok, strings.TrimRight(instance, "/"), nil
}
