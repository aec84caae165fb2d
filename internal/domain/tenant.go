package domain

// TenantConfig is the per-deployment capability and branding descriptor.
// It is read-only at runtime; nothing here is trusted from the client side.
type TenantConfig struct {
	CompanyName     string `mapstructure:"company_name" json:"companyName"`
	RoomPrefix      string `mapstructure:"room_prefix" json:"-"`
	AgentIdentity   string `mapstructure:"agent_identity" json:"-"`
	PageTitle       string `mapstructure:"page_title" json:"pageTitle"`
	PageDescription string `mapstructure:"page_description" json:"pageDescription"`

	SupportsChatInput   bool `mapstructure:"supports_chat_input" json:"supportsChatInput"`
	SupportsVideoInput  bool `mapstructure:"supports_video_input" json:"supportsVideoInput"`
	SupportsScreenShare bool `mapstructure:"supports_screen_share" json:"supportsScreenShare"`

	Logo            string `mapstructure:"logo" json:"logo"`
	Accent          string `mapstructure:"accent" json:"accent"`
	LogoDark        string `mapstructure:"logo_dark" json:"logoDark"`
	AccentDark      string `mapstructure:"accent_dark" json:"accentDark"`
	StartButtonText string `mapstructure:"start_button_text" json:"startButtonText"`
}

func (t TenantConfig) Agent() ParticipantIdentity {
	return ParticipantIdentity(t.AgentIdentity)
}
