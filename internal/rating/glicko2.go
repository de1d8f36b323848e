// internal/rating/glicko2.go
package rating

import (
	"math"

	"github.com/jason-s-yu/promptquest/internal/models"
)

const (
	// GlickoScale is the multiplier used for converting between the 1500 scale and Glicko2's mu.
	GlickoScale = 173.7178
	// DefaultRating is the baseline rating on the 1500 scale.
	DefaultRating = 1500.0
	// DefaultDeviation is the baseline rating deviation (RD).
	DefaultDeviation = 350.0
	// DefaultVolatility is the starting volatility.
	DefaultVolatility = 0.06
	// Tau is the constraint on volatility changes.
	Tau = 0.5
	// Epsilon is the tolerance used in iteration stopping conditions.
	Epsilon = 0.000001

	// MinDeviation keeps a regular's rating from freezing.
	MinDeviation = 30.0
)

// Glicko2Rating holds the transformed rating (Mu), rating deviation (Phi),
// and volatility (Sigma) for a single player in Glicko2 space.
type Glicko2Rating struct {
	Mu    float64
	Phi   float64
	Sigma float64
}

// NewGlicko2Rating converts a rating, deviation and volatility on the 1500 scale.
func NewGlicko2Rating(rating, rd, sigma float64) Glicko2Rating {
	return Glicko2Rating{
		Mu:    (rating - DefaultRating) / GlickoScale,
		Phi:   rd / GlickoScale,
		Sigma: sigma,
	}
}

// ToRating converts Mu back to the 1500 scale.
func (r Glicko2Rating) ToRating() float64 {
	return r.Mu*GlickoScale + DefaultRating
}

// ToDeviation converts Phi back to the 1500 scale.
func (r Glicko2Rating) ToDeviation() float64 {
	return r.Phi * GlickoScale
}

func fromPlayer(p models.PlayerRating) Glicko2Rating {
	return NewGlicko2Rating(p.Rating, p.Deviation, p.Volatility)
}

// Update1v1 rates one battle between a and b. score is a's result: 1 for a
// win, 0 for a loss, 0.5 for a draw. Both sides are updated against the other's
// pre-battle rating.
func Update1v1(a, b models.PlayerRating, score float64) (models.PlayerRating, models.PlayerRating) {
	ga, gb := fromPlayer(a), fromPlayer(b)
	na := updateGlicko(ga, gb, score)
	nb := updateGlicko(gb, ga, 1-score)
	return applyResult(a, na, score), applyResult(b, nb, 1-score)
}

func applyResult(p models.PlayerRating, r Glicko2Rating, score float64) models.PlayerRating {
	p.Rating = math.Round(r.ToRating()*10) / 10
	p.Deviation = math.Max(MinDeviation, r.ToDeviation())
	p.Volatility = r.Sigma
	switch {
	case score > 0.5:
		p.Wins++
	case score < 0.5:
		p.Losses++
	default:
		p.Draws++
	}
	return p
}

// updateGlicko performs a single-match Glicko2 update with volatility for a player r
// against an opponent rOpp, given the final score in [0..1].
func updateGlicko(r, rOpp Glicko2Rating, score float64) Glicko2Rating {
	gVal := g(rOpp.Phi)
	EVal := E(r.Mu, rOpp.Mu, rOpp.Phi)

	v := 1.0 / (gVal * gVal * EVal * (1 - EVal))
	delta := v * gVal * (score - EVal)

	// volatility: Illinois iteration on f
	a := math.Log(r.Sigma * r.Sigma)
	fn := func(x float64) float64 {
		return f(x, r.Phi, v, delta, a)
	}

	A := a
	var B float64
	if delta*delta > r.Phi*r.Phi+v {
		B = math.Log(delta*delta - r.Phi*r.Phi - v)
	} else {
		k := 1.0
		for fn(a-k*Tau) < 0 {
			k++
		}
		B = a - k*Tau
	}

	fA, fB := fn(A), fn(B)
	for i := 0; i < 100 && math.Abs(B-A) > Epsilon; i++ {
		C := A + (A-B)*fA/(fB-fA)
		fC := fn(C)
		if fC*fB <= 0 {
			A, fA = B, fB
		} else {
			fA /= 2
		}
		B, fB = C, fC
	}

	newSigma := math.Exp(A / 2)
	phiStar := math.Sqrt(r.Phi*r.Phi + newSigma*newSigma)
	phiPrime := 1.0 / math.Sqrt(1.0/(phiStar*phiStar)+1.0/v)
	muPrime := r.Mu + phiPrime*phiPrime*gVal*(score-EVal)

	return Glicko2Rating{
		Mu:    muPrime,
		Phi:   phiPrime,
		Sigma: newSigma,
	}
}

// g is the G(phi) factor from Glicko2, applying the standard formula 1/sqrt(1+3phi^2/pi^2).
func g(phi float64) float64 {
	return 1.0 / math.Sqrt(1.0+3.0*phi*phi/math.Pi/math.Pi)
}

// E is the expected score formula in Glicko2 space, E(mu,mu2,phi2)=1/(1+exp[-g(phi2)*(mu-mu2)])
func E(mu, mu2, phi2 float64) float64 {
	return 1.0 / (1.0 + math.Exp(-g(phi2)*(mu-mu2)))
}

// f is the Glicko2 volatility root-finding function used in the iterative volatility update.
func f(x, phi, v, delta, a float64) float64 {
	ex := math.Exp(x)
	num := ex * (delta*delta - phi*phi - v - ex)
	den := 2.0 * (phi*phi + v + ex) * (phi*phi + v + ex)
	return (num / den) - ((x - a) / (Tau * Tau))
}
