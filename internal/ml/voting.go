package ml

import (
	"encoding/json"

	"hybrid-learning-bot-go/internal/models"
)

// Voting averages the probabilities of its member models (soft voting). The
// artifact stores the members inline so a voting version is self-contained
// and survives later re-promotion of its members.
type Voting struct {
	MemberKinds []models.ModelKind `json:"member_kinds"`
	members     []BatchModel
}

// NewVoting builds a soft-voting model over the given members.
func NewVoting(members []BatchModel) *Voting {
	v := &Voting{members: members}
	for _, m := range members {
		v.MemberKinds = append(v.MemberKinds, m.Kind())
	}
	return v
}

func (v *Voting) Kind() models.ModelKind { return models.KindVoting }

func (v *Voting) PredictProb(x models.FeatureVector) float64 {
	if len(v.members) == 0 {
		return 0.5
	}
	sum := 0.0
	for _, m := range v.members {
		sum += m.PredictProb(x)
	}
	return sum / float64(len(v.members))
}

// votingArtifact is the serialized form: each member as its own artifact.
type votingArtifact struct {
	Members []memberArtifact `json:"members"`
}

type memberArtifact struct {
	Kind models.ModelKind `json:"kind"`
	Data json.RawMessage  `json:"data"`
}

// EncodeModel serializes a batch model to registry artifact bytes.
func EncodeModel(m BatchModel) ([]byte, error) {
	switch model := m.(type) {
	case *Forest, *GBT:
		return json.Marshal(model)
	case *Voting:
		art := votingArtifact{}
		for _, member := range model.members {
			data, err := EncodeModel(member)
			if err != nil {
				return nil, err
			}
			art.Members = append(art.Members, memberArtifact{Kind: member.Kind(), Data: data})
		}
		return json.Marshal(art)
	default:
		return nil, models.NewAppError(models.KindUnknownKind, "cannot encode model kind %q", m.Kind())
	}
}

// DecodeModel rebuilds a batch model from artifact bytes.
func DecodeModel(kind models.ModelKind, data []byte) (BatchModel, error) {
	switch kind {
	case models.KindRF:
		var f Forest
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, models.WrapAppError(models.KindStorageError, err, "decoding forest artifact")
		}
		return &f, nil
	case models.KindGB:
		var g GBT
		if err := json.Unmarshal(data, &g); err != nil {
			return nil, models.WrapAppError(models.KindStorageError, err, "decoding boosted-trees artifact")
		}
		return &g, nil
	case models.KindVoting:
		var art votingArtifact
		if err := json.Unmarshal(data, &art); err != nil {
			return nil, models.WrapAppError(models.KindStorageError, err, "decoding voting artifact")
		}
		v := &Voting{}
		for _, member := range art.Members {
			m, err := DecodeModel(member.Kind, member.Data)
			if err != nil {
				return nil, err
			}
			v.members = append(v.members, m)
			v.MemberKinds = append(v.MemberKinds, member.Kind)
		}
		return v, nil
	default:
		return nil, models.NewAppError(models.KindUnknownKind, "no decoder for model kind %q", kind)
	}
}
