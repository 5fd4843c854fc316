package analyst

// Methodology is the lens an analyst applies to the market.
type Methodology string

const (
	MethodologyValue      Methodology = "value"
	MethodologyGrowth     Methodology = "growth"
	MethodologyTechnical  Methodology = "technical"
	MethodologyMacro      Methodology = "macro"
	MethodologySentiment  Methodology = "sentiment"
	MethodologyRisk       Methodology = "risk"
	MethodologyQuant      Methodology = "quant"
	MethodologyContrarian Methodology = "contrarian"
)

// Role is an analyst's pipeline responsibility. Every analyst is a
// specialist in the championship; some additionally select coins or sit on
// the risk council.
type Role string

const (
	RoleCoinSelector Role = "coin_selector"
	RoleSpecialist   Role = "specialist"
	RoleRiskCouncil  Role = "risk_council"
)

// Profile is the static identity of one analyst.
type Profile struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Methodology Methodology `json:"methodology"`
	Role        Role        `json:"role"`
	Persona     string      `json:"persona"`
}

// Profiles is the fixed eight-analyst roster, in stable order.
var Profiles = []Profile{
	{
		ID: "warren", Name: "Warren", Methodology: MethodologyValue, Role: RoleCoinSelector,
		Persona: "Patient value investor. Looks for assets trading below intrinsic worth, strong on-chain fundamentals, and durable demand. Distrusts hype.",
	},
	{
		ID: "cathie", Name: "Cathie", Methodology: MethodologyGrowth, Role: RoleCoinSelector,
		Persona: "Aggressive growth investor. Hunts exponential adoption curves and narrative momentum. Comfortable with drawdowns on high-conviction names.",
	},
	{
		ID: "jim", Name: "Jim", Methodology: MethodologyTechnical, Role: RoleCoinSelector,
		Persona: "Pure chartist. Trades structure: support, resistance, volume profile, momentum divergence. The chart is the only truth.",
	},
	{
		ID: "elon", Name: "Elon", Methodology: MethodologySentiment, Role: RoleCoinSelector,
		Persona: "Sentiment reader. Tracks crowd psychology, social volume, and funding skew. Looks for moments when attention turns into flow.",
	},
	{
		ID: "ray", Name: "Ray", Methodology: MethodologyMacro, Role: RoleSpecialist,
		Persona: "Macro strategist. Frames every trade in terms of liquidity cycles, rates, and cross-asset risk appetite.",
	},
	{
		ID: "quant", Name: "Quant", Methodology: MethodologyQuant, Role: RoleSpecialist,
		Persona: "Systematic quant. Speaks in basis points, z-scores, and expectancy. Only trusts what can be measured.",
	},
	{
		ID: "burry", Name: "Burry", Methodology: MethodologyContrarian, Role: RoleSpecialist,
		Persona: "Contrarian. Assumes the consensus is already in the price. Hunts crowded trades to fade and overlooked assets to own.",
	},
	{
		ID: "karen", Name: "Karen", Methodology: MethodologyRisk, Role: RoleRiskCouncil,
		Persona: "Chief risk officer. Assumes every thesis is wrong and asks what it costs when it is. Sizes for survival first.",
	},
}

// ByID returns the profile for an analyst id, or nil.
func ByID(id string) *Profile {
	for i := range Profiles {
		if Profiles[i].ID == id {
			return &Profiles[i]
		}
	}
	return nil
}

// CoinSelectors returns the analysts who pick coins in stage 2.
func CoinSelectors() []Profile {
	var out []Profile
	for _, p := range Profiles {
		if p.Role == RoleCoinSelector {
			out = append(out, p)
		}
	}
	return out
}

// RiskCouncilProfile returns the risk-council analyst.
func RiskCouncilProfile() Profile {
	for _, p := range Profiles {
		if p.Role == RoleRiskCouncil {
			return p
		}
	}
	return Profiles[len(Profiles)-1]
}
