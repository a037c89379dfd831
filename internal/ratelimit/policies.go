package ratelimit

import "time"

// Policy names asserted by the auth service.
const (
	PolicyEmailRegister = "email_register"
	PolicyEmailLogin    = "email_login"
	PolicyGoogleLogin   = "google_login"
	PolicyTelegramLogin = "telegram_login"
	PolicyRefresh       = "refresh"
	PolicyLinkStart     = "link_start"
	PolicyLinkConfirm   = "link_confirm"
)

func ipKey(r Request) string      { return r.IP }
func subjectKey(r Request) string { return r.Subject }

// GlobalRules is the per-IP ceiling applied ahead of every policy.
func GlobalRules() []Rule {
	return []Rule{
		{ID: "global_ip", Limit: 100, Window: time.Minute, Key: ipKey},
	}
}

// DefaultPolicies returns the per-operation rules. Credential-guessing
// surfaces get a tight per-subject budget on top of a per-IP one; refresh is
// looser since its token is already high-entropy.
func DefaultPolicies() map[string][]Rule {
	return map[string][]Rule{
		PolicyEmailRegister: {
			{ID: "email_register_ip", Limit: 10, Window: time.Hour, Key: ipKey},
		},
		PolicyEmailLogin: {
			{ID: "email_login_ip", Limit: 20, Window: time.Minute, Key: ipKey},
			{ID: "email_login_subject", Limit: 5, Window: 15 * time.Minute, Key: subjectKey},
		},
		PolicyGoogleLogin: {
			{ID: "google_login_ip", Limit: 30, Window: time.Minute, Key: ipKey},
		},
		PolicyTelegramLogin: {
			{ID: "telegram_login_ip", Limit: 30, Window: time.Minute, Key: ipKey},
		},
		PolicyRefresh: {
			{ID: "refresh_ip", Limit: 60, Window: time.Minute, Key: ipKey},
		},
		PolicyLinkStart: {
			{ID: "link_start_subject", Limit: 10, Window: 10 * time.Minute, Key: subjectKey},
		},
		PolicyLinkConfirm: {
			{ID: "link_confirm_subject", Limit: 10, Window: 10 * time.Minute, Key: subjectKey},
		},
	}
}
