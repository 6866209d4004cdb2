package schemas

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

// -- Core Graph Models --
// These types represent the fully-formed entities as they exist in the
// dependency graph. Inputs from the parsers live in records.go.

// guidPattern is the canonical Unity GUID shape: 32 hex characters.
var guidPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// NormalizeGUID lowercases a candidate GUID and validates its shape.
// Mixed-case GUIDs appear in the wild; Unity treats them case-insensitively.
func NormalizeGUID(raw string) (string, error) {
	g := strings.ToLower(strings.TrimSpace(raw))
	if !guidPattern.MatchString(g) {
		return "", fmt.Errorf("invalid guid %q: want 32 hex characters", raw)
	}
	return g, nil
}

// IsGUID reports whether raw is a valid, already-normalized GUID.
func IsGUID(raw string) bool {
	return guidPattern.MatchString(raw)
}

// AssetKind categorizes an asset node.
type AssetKind string

const (
	KindTexture            AssetKind = "texture"
	KindModel              AssetKind = "model"
	KindScript             AssetKind = "script"
	KindScene              AssetKind = "scene"
	KindPrefab             AssetKind = "prefab"
	KindMaterial           AssetKind = "material"
	KindShader             AssetKind = "shader"
	KindAudio              AssetKind = "audio"
	KindAnimation          AssetKind = "animation"
	KindAnimatorController AssetKind = "animator_controller"
	KindFont               AssetKind = "font"
	KindVideo              AssetKind = "video"
	KindShaderGraph        AssetKind = "shader_graph"
	KindScriptableObject   AssetKind = "scriptable_object"
	KindNative             AssetKind = "native"
	KindUnknown            AssetKind = "unknown"
)

// ImporterKind is the top-level key in a .meta file naming the Unity
// subsystem that ingests the asset.
type ImporterKind string

const (
	ImporterTexture            ImporterKind = "TextureImporter"
	ImporterModel              ImporterKind = "ModelImporter"
	ImporterMono               ImporterKind = "MonoImporter"
	ImporterNativeFormat       ImporterKind = "NativeFormatImporter"
	ImporterDefault            ImporterKind = "DefaultImporter"
	ImporterPlugin             ImporterKind = "PluginImporter"
	ImporterAssemblyDefinition ImporterKind = "AssemblyDefinitionImporter"
	ImporterPackageManifest    ImporterKind = "PackageManifestImporter"
	ImporterFont               ImporterKind = "FontImporter"
	ImporterVideoClip          ImporterKind = "VideoClipImporter"
	ImporterShader             ImporterKind = "ShaderImporter"
	ImporterComputeShader      ImporterKind = "ComputeShaderImporter"
	ImporterSpeedTree          ImporterKind = "SpeedTreeImporter"
	ImporterSubstance          ImporterKind = "SubstanceImporter"
	ImporterUnknown            ImporterKind = "unknown"
)

// knownImporters is the dispatch set for meta parsing. Anything else maps to
// ImporterUnknown with a warning rather than a parse failure.
var knownImporters = map[string]ImporterKind{
	string(ImporterTexture):            ImporterTexture,
	string(ImporterModel):              ImporterModel,
	string(ImporterMono):               ImporterMono,
	string(ImporterNativeFormat):       ImporterNativeFormat,
	string(ImporterDefault):            ImporterDefault,
	string(ImporterPlugin):             ImporterPlugin,
	string(ImporterAssemblyDefinition): ImporterAssemblyDefinition,
	string(ImporterPackageManifest):    ImporterPackageManifest,
	string(ImporterFont):               ImporterFont,
	string(ImporterVideoClip):          ImporterVideoClip,
	string(ImporterShader):             ImporterShader,
	string(ImporterComputeShader):      ImporterComputeShader,
	string(ImporterSpeedTree):          ImporterSpeedTree,
	string(ImporterSubstance):          ImporterSubstance,
}

// LookupImporter resolves a meta-file key to an ImporterKind. ok is false for
// importers outside the enumerated set.
func LookupImporter(key string) (ImporterKind, bool) {
	imp, ok := knownImporters[key]
	if !ok {
		return ImporterUnknown, false
	}
	return imp, true
}

// importerKinds maps an importer to the asset kind it usually produces.
// The extension table below refines the ambiguous entries.
var importerKinds = map[ImporterKind]AssetKind{
	ImporterTexture:       KindTexture,
	ImporterModel:         KindModel,
	ImporterMono:          KindScript,
	ImporterNativeFormat:  KindNative,
	ImporterPlugin:        KindNative,
	ImporterFont:          KindFont,
	ImporterVideoClip:     KindVideo,
	ImporterShader:        KindShader,
	ImporterComputeShader: KindShader,
	ImporterSpeedTree:     KindModel,
	ImporterSubstance:     KindMaterial,
}

// extensionKinds resolves asset kind from the companion file's extension for
// importers that cover many asset classes (NativeFormatImporter in particular).
var extensionKinds = map[string]AssetKind{
	".prefab":      KindPrefab,
	".unity":       KindScene,
	".scene":       KindScene,
	".mat":         KindMaterial,
	".controller":  KindAnimatorController,
	".anim":        KindAnimation,
	".cs":          KindScript,
	".shader":      KindShader,
	".shadergraph": KindShaderGraph,
	".asset":       KindScriptableObject,
	".wav":         KindAudio,
	".mp3":         KindAudio,
	".ogg":         KindAudio,
	".fbx":         KindModel,
	".obj":         KindModel,
	".png":         KindTexture,
	".jpg":         KindTexture,
	".jpeg":        KindTexture,
	".tga":         KindTexture,
	".psd":         KindTexture,
	".exr":         KindTexture,
	".ttf":         KindFont,
	".otf":         KindFont,
	".mp4":         KindVideo,
	".webm":        KindVideo,
}

// ClassifyAsset derives the asset kind from the importer and the asset path.
// Extension wins over importer when both resolve, since NativeFormatImporter
// alone says nothing about what the asset is.
func ClassifyAsset(importer ImporterKind, assetPath string) AssetKind {
	ext := strings.ToLower(path.Ext(assetPath))
	if kind, ok := extensionKinds[ext]; ok {
		return kind
	}
	if kind, ok := importerKinds[importer]; ok {
		return kind
	}
	return KindUnknown
}

// Node is an asset in the dependency graph, keyed by GUID.
type Node struct {
	GUID             string            `json:"guid"`
	Path             string            `json:"path"`
	Kind             AssetKind         `json:"kind"`
	SizeBytes        int64             `json:"size_bytes"`
	LastModified     time.Time         `json:"last_modified"`
	ContentHash      string            `json:"content_hash,omitempty"`
	IsAnalyzed       bool              `json:"is_analyzed"`
	ImporterKind     ImporterKind      `json:"importer_kind"`
	ImporterMetadata map[string]string `json:"importer_metadata,omitempty"`
	Active           bool              `json:"active"`
}

// NormalizePath converts OS separators to forward slashes and trims any
// leading "./". All graph paths are project-relative, '/'-separated.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")
	return p
}
