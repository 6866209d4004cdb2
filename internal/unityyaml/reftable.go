package unityyaml

import (
	"strings"

	"github.com/xkilldash9x/unigraph-cli/api/schemas"
)

// Unity class IDs worth naming. The component type recorded on an edge is the
// class name of the document the reference was found in.
var classNames = map[int]string{
	1:    "GameObject",
	2:    "Component",
	4:    "Transform",
	20:   "Camera",
	21:   "Material",
	23:   "MeshRenderer",
	28:   "Texture2D",
	33:   "MeshFilter",
	43:   "Mesh",
	48:   "Shader",
	54:   "Rigidbody",
	64:   "MeshCollider",
	65:   "BoxCollider",
	74:   "Animation",
	81:   "AudioListener",
	82:   "AudioSource",
	83:   "AudioClip",
	90:   "Avatar",
	91:   "AnimatorController",
	95:   "Animator",
	108:  "Light",
	114:  "MonoBehaviour",
	115:  "MonoScript",
	128:  "Font",
	136:  "CapsuleCollider",
	137:  "SkinnedMeshRenderer",
	198:  "ParticleSystem",
	212:  "SpriteRenderer",
	224:  "RectTransform",
	320:  "PlayableDirector",
	1001: "PrefabInstance",
	1660057539: "SceneRoots",
}

// ClassName resolves a Unity class ID to its component name.
func ClassName(classID int) string {
	if name, ok := classNames[classID]; ok {
		return name
	}
	return ""
}

// ruleKey is the typed-reference lookup: class ID plus the property key the
// reference hangs off. classID 0 entries apply to any class.
type ruleKey struct {
	classID int
	prop    string
}

type refRule struct {
	kind     schemas.DepKind
	strength schemas.Strength
}

// refRules is the fixed (class_id, context) -> dep_kind table. Unmapped cases
// fall through to property-name heuristics, then to indirect/weak.
var refRules = map[ruleKey]refRule{
	{21, "m_Shader"}:           {schemas.DepShader, schemas.StrengthStrong},
	{21, "m_Texture"}:          {schemas.DepTexture, schemas.StrengthMedium},
	{23, "m_Materials"}:        {schemas.DepMaterial, schemas.StrengthStrong},
	{137, "m_Materials"}:       {schemas.DepMaterial, schemas.StrengthStrong},
	{212, "m_Materials"}:       {schemas.DepMaterial, schemas.StrengthStrong},
	{33, "m_Mesh"}:             {schemas.DepMesh, schemas.StrengthMedium},
	{64, "m_Mesh"}:             {schemas.DepMesh, schemas.StrengthMedium},
	{137, "m_Mesh"}:            {schemas.DepMesh, schemas.StrengthMedium},
	{82, "m_audioClip"}:        {schemas.DepAudio, schemas.StrengthMedium},
	{74, "m_Animation"}:        {schemas.DepAnimation, schemas.StrengthMedium},
	{74, "m_Animations"}:       {schemas.DepAnimation, schemas.StrengthMedium},
	{95, "m_Controller"}:       {schemas.DepAnimation, schemas.StrengthStrong},
	{114, "m_Script"}:          {schemas.DepScript, schemas.StrengthCritical},
	{1001, "m_SourcePrefab"}:   {schemas.DepPrefabInstance, schemas.StrengthImportant},
	{1001, "m_ParentPrefab"}:   {schemas.DepPrefabInstance, schemas.StrengthImportant},
	{0, "m_Script"}:            {schemas.DepScript, schemas.StrengthCritical},
	{0, "m_Shader"}:            {schemas.DepShader, schemas.StrengthStrong},
	{0, "m_Mesh"}:              {schemas.DepMesh, schemas.StrengthMedium},
	{0, "m_SourcePrefab"}:      {schemas.DepPrefabInstance, schemas.StrengthImportant},
	{0, "m_SceneAsset"}:        {schemas.DepSceneInstance, schemas.StrengthImportant},
}

// ClassifyReference maps a reference's surroundings to a dependency kind and
// strength. prop is the nearest named property key on the context chain.
func ClassifyReference(classID int, prop string) (schemas.DepKind, schemas.Strength) {
	if rule, ok := refRules[ruleKey{classID, prop}]; ok {
		return rule.kind, rule.strength
	}
	if rule, ok := refRules[ruleKey{0, prop}]; ok {
		return rule.kind, rule.strength
	}

	// Heuristic layer: Unity property naming is regular enough that the
	// substring carries the type when the exact rule is missing.
	lower := strings.ToLower(prop)
	switch {
	case strings.Contains(lower, "material"):
		return schemas.DepMaterial, schemas.StrengthStrong
	case strings.Contains(lower, "texture") || strings.Contains(lower, "sprite") || strings.Contains(lower, "maintex"):
		return schemas.DepTexture, schemas.StrengthMedium
	case strings.Contains(lower, "mesh"):
		return schemas.DepMesh, schemas.StrengthMedium
	case strings.Contains(lower, "audio") || strings.Contains(lower, "clip") && strings.Contains(lower, "audio"):
		return schemas.DepAudio, schemas.StrengthMedium
	case strings.Contains(lower, "animation") || strings.Contains(lower, "motion"):
		return schemas.DepAnimation, schemas.StrengthMedium
	case strings.Contains(lower, "prefab"):
		return schemas.DepPrefabInstance, schemas.StrengthImportant
	case strings.Contains(lower, "scene"):
		return schemas.DepSceneInstance, schemas.StrengthImportant
	case strings.Contains(lower, "shader"):
		return schemas.DepShader, schemas.StrengthStrong
	case strings.Contains(lower, "script"):
		return schemas.DepScript, schemas.StrengthCritical
	}
	return schemas.DepIndirect, schemas.StrengthWeak
}
